// Package models provides the data structures shared by the extraction,
// validation and warehouse layers of metasync.
package models

// RawRecord is one element of a Graph API page's data array. It may hold
// nested objects and lists and is discarded once normalized.
type RawRecord = map[string]interface{}

// Row is a single flat row keyed by column name.
type Row = map[string]interface{}

// Frame is an ordered, column-labelled set of rows produced for one
// logical table. A frame with no rows and no columns is an empty extract.
type Frame struct {
	Columns []string
	Rows    []Row
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows. A nil frame has zero rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// IsEmpty reports whether the frame has neither rows nor columns.
func (f *Frame) IsEmpty() bool {
	return f == nil || (len(f.Rows) == 0 && len(f.Columns) == 0)
}

// HasColumn reports whether name is one of the frame's columns.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds row, registering any columns not seen before in key order
// of first appearance within cols. Passing nil cols skips registration.
func (f *Frame) Append(row Row, cols []string) {
	for _, c := range cols {
		if !f.HasColumn(c) {
			f.Columns = append(f.Columns, c)
		}
	}
	f.Rows = append(f.Rows, row)
}

// Values returns the values of one column across all rows.
func (f *Frame) Values(column string) []interface{} {
	out := make([]interface{}, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r[column]
	}
	return out
}

// Concat joins frames row-wise in argument order. The result's columns are
// the union of the inputs' columns in order of first appearance. Nil and
// empty frames are skipped; when nothing remains an empty frame is returned.
func Concat(frames ...*Frame) *Frame {
	out := &Frame{}
	seen := make(map[string]struct{})
	for _, f := range frames {
		if f.IsEmpty() {
			continue
		}
		for _, c := range f.Columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out.Columns = append(out.Columns, c)
		}
		out.Rows = append(out.Rows, f.Rows...)
	}
	return out
}
