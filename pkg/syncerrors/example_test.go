package syncerrors_test

import (
	"errors"
	"fmt"
	"io"

	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

func Example() {
	err := syncerrors.New(syncerrors.ErrorTypeConfig, "invalid write mode").
		WithDetail("write_mode", "upsert")

	fmt.Println(err.Error())

	// Output:
	// config: invalid write mode (write_mode=upsert)
}

func ExampleWrap() {
	err := syncerrors.Wrap(io.ErrUnexpectedEOF, syncerrors.ErrorTypeExtraction, "failed to decode page")

	fmt.Println(syncerrors.IsType(err, syncerrors.ErrorTypeExtraction))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true
	// true
}

func ExampleIsRetryable() {
	transient := syncerrors.New(syncerrors.ErrorTypeConnection, "connection reset")
	fatal := syncerrors.New(syncerrors.ErrorTypeValidation, "cannot coerce value")

	fmt.Println(syncerrors.IsRetryable(transient))
	fmt.Println(syncerrors.IsRetryable(fatal))

	// Output:
	// true
	// false
}
