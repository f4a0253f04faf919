// Package schema holds the static table registry and the validator that
// enforces each table's declared columns on extracted frames.
package schema

// FieldType is a destination column type.
type FieldType string

const (
	TypeString    FieldType = "STRING"
	TypeInteger   FieldType = "INTEGER"
	TypeFloat     FieldType = "FLOAT"
	TypeBoolean   FieldType = "BOOLEAN"
	TypeTimestamp FieldType = "TIMESTAMP"
	TypeDate      FieldType = "DATE"
)

// Column declares one destination column.
type Column struct {
	Name     string
	Type     FieldType
	Nullable bool
	// Default fills absent or null values. nil means no default.
	Default interface{}
}

// TableSchema is the ordered column set of a destination table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Names returns the column names in declaration order.
func (s *TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func str(name string) Column         { return Column{Name: name, Type: TypeString} }
func nullableStr(name string) Column { return Column{Name: name, Type: TypeString, Nullable: true} }
func timestamp(name string) Column   { return Column{Name: name, Type: TypeTimestamp} }
func date(name string) Column        { return Column{Name: name, Type: TypeDate} }
func counter(name string) Column {
	return Column{Name: name, Type: TypeInteger, Default: int64(0)}
}
func amount(name string) Column {
	return Column{Name: name, Type: TypeFloat, Default: float64(0)}
}
