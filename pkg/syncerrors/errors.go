// Package syncerrors provides structured error handling for metasync with
// error categorization, key-value context and captured call stacks.
//
// # Basic Usage
//
//	err := syncerrors.New(syncerrors.ErrorTypeConfig, "invalid write mode").
//		WithDetail("write_mode", mode)
//
//	if err := sink.Load(ctx, table, frame, s, mode); err != nil {
//		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "load failed").
//			WithDetail("table", table)
//	}
//
// The error type drives retry decisions (IsRetryable) and how the job
// endpoints and the CLI report failures. Errors are compatible with
// errors.Is and errors.As through Unwrap.
package syncerrors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors and programming faults
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents schema validation failures
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents missing resources (tables, watermarks)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limiting by the source API
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeouts
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transport level failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents token validation failures
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents invalid configuration or request parameters
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeExtraction represents a fatal failure fetching from the source API
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeWarehouse represents failures talking to the destination warehouse
	ErrorTypeWarehouse ErrorType = "warehouse"
)

// Error is a structured error with a category, optional cause, details and
// the call stack at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of a captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. The stack of an existing *Error
// cause is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the outermost structured error in the chain
// is of a transient type (rate limit, timeout, connection).
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether any structured error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or
// ErrorTypeInternal if err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
