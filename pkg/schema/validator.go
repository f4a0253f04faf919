package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// maxFieldErrors caps how many field errors a ValidationError lists.
const maxFieldErrors = 50

// FieldError describes one value that failed validation.
type FieldError struct {
	Row    int
	Column string
	Value  interface{}
	Type   FieldType
	Reason string
}

func (e FieldError) String() string {
	return fmt.Sprintf("row %d column %s (%s): %s", e.Row, e.Column, e.Type, e.Reason)
}

// ValidationError aggregates the field errors of one table.
type ValidationError struct {
	Table  string
	Fields []FieldError
	// Total counts every failure, including those beyond the listed cap
	Total int
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %s: %d invalid value(s)", e.Table, e.Total)
	for i, f := range e.Fields {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		b.WriteString("; ")
		b.WriteString(f.String())
	}
	return b.String()
}

// Validate enforces s on frame and returns a new frame whose columns are
// exactly the schema's, in schema order:
//   - undeclared columns are dropped
//   - declared columns missing from the frame are filled with the default
//   - every value is coerced to its declared type
//
// A frame with no rows and no columns is returned unchanged. Any value that
// cannot be coerced fails the whole table with a *ValidationError wrapped
// as syncerrors.ErrorTypeValidation.
func Validate(frame *models.Frame, s *TableSchema) (*models.Frame, error) {
	if frame.IsEmpty() {
		return frame, nil
	}

	verr := &ValidationError{Table: s.Name}
	out := &models.Frame{
		Columns: s.Names(),
		Rows:    make([]models.Row, 0, len(frame.Rows)),
	}

	for i, in := range frame.Rows {
		row := make(models.Row, len(s.Columns))
		for _, col := range s.Columns {
			v, err := coerceColumn(col, in[col.Name])
			if err != nil {
				verr.Total++
				if len(verr.Fields) < maxFieldErrors {
					verr.Fields = append(verr.Fields, FieldError{
						Row:    i,
						Column: col.Name,
						Value:  in[col.Name],
						Type:   col.Type,
						Reason: err.Error(),
					})
				}
				continue
			}
			row[col.Name] = v
		}
		out.Rows = append(out.Rows, row)
	}

	if verr.Total > 0 {
		return nil, syncerrors.Wrap(verr, syncerrors.ErrorTypeValidation, "schema validation failed").
			WithDetail("table", s.Name).
			WithDetail("invalid_values", verr.Total)
	}
	return out, nil
}

func coerceColumn(col Column, v interface{}) (interface{}, error) {
	if v == nil {
		return nullValue(col)
	}
	out, err := Coerce(v, col.Type)
	if errors.Is(err, errNull) {
		return nullValue(col)
	}
	return out, err
}

func nullValue(col Column) (interface{}, error) {
	if col.Default != nil {
		return col.Default, nil
	}
	if col.Nullable {
		return nil, nil
	}
	return nil, errors.New("null value in non-nullable column")
}

// AsValidationError extracts a *ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	ok := errors.As(err, &verr)
	return verr, ok
}
