package sqlsink

import (
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ajitpratap0/metasync/pkg/schema"
)

// dialect captures what differs between the SQL warehouses.
type dialect struct {
	name   string
	driver string
	// numbered placeholders ($1) instead of ?
	numbered bool
	// sqlite has no schemas; the dataset becomes a table name prefix
	prefixTables bool
	// sqlite has no native timestamp type; times are stored as text
	textTimes   bool
	types       map[schema.FieldType]string
	columnsSQL  string
	defaultDSN  string
	singleConns bool
}

var (
	sqliteDialect = dialect{
		name:         "sqlite",
		driver:       "sqlite",
		prefixTables: true,
		textTimes:    true,
		types: map[schema.FieldType]string{
			schema.TypeString:    "TEXT",
			schema.TypeInteger:   "INTEGER",
			schema.TypeFloat:     "REAL",
			schema.TypeBoolean:   "INTEGER",
			schema.TypeTimestamp: "TEXT",
			schema.TypeDate:      "TEXT",
		},
		columnsSQL:  "SELECT name FROM pragma_table_info(?)",
		defaultDSN:  ":memory:",
		singleConns: true,
	}

	duckdbDialect = dialect{
		name:   "duckdb",
		driver: "duckdb",
		types: map[schema.FieldType]string{
			schema.TypeString:    "VARCHAR",
			schema.TypeInteger:   "BIGINT",
			schema.TypeFloat:     "DOUBLE",
			schema.TypeBoolean:   "BOOLEAN",
			schema.TypeTimestamp: "TIMESTAMP",
			schema.TypeDate:      "DATE",
		},
		columnsSQL: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position",
	}

	postgresDialect = dialect{
		name:     "postgres",
		driver:   "pgx",
		numbered: true,
		types: map[schema.FieldType]string{
			schema.TypeString:    "TEXT",
			schema.TypeInteger:   "BIGINT",
			schema.TypeFloat:     "DOUBLE PRECISION",
			schema.TypeBoolean:   "BOOLEAN",
			schema.TypeTimestamp: "TIMESTAMPTZ",
			schema.TypeDate:      "DATE",
		},
		columnsSQL: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position",
	}
)

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// placeholders returns n placeholders starting at position from (1-based).
func (d dialect) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		if d.numbered {
			out[i] = "$" + strconv.Itoa(from+i)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (d dialect) columnType(t schema.FieldType) string {
	if s, ok := d.types[t]; ok {
		return s
	}
	return d.types[schema.TypeString]
}

// value converts a validated value into a driver argument.
func (d dialect) value(v interface{}) interface{} {
	switch x := v.(type) {
	case civil.Date:
		return x.String()
	case time.Time:
		if d.textTimes {
			return x.UTC().Format(time.RFC3339Nano)
		}
		return x.UTC()
	default:
		return v
	}
}
