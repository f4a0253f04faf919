package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
)

// timestampLayouts are tried in order when parsing timestamp strings.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// errNull signals an empty value that should be handled like a missing one.
var errNull = errors.New("null value")

// Coerce converts v to the Go representation of t:
// STRING string, INTEGER int64, FLOAT float64, BOOLEAN bool,
// TIMESTAMP time.Time (UTC), DATE civil.Date.
func Coerce(v interface{}, t FieldType) (interface{}, error) {
	switch t {
	case TypeString:
		return toString(v)
	case TypeInteger:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeBoolean:
		return toBool(v)
	case TypeTimestamp:
		return toTimestamp(v)
	case TypeDate:
		return toDate(v)
	default:
		return nil, fmt.Errorf("unsupported column type %s", t)
	}
}

func toString(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case jsonpool.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	case civil.Date:
		return x.String(), nil
	case map[string]interface{}, []interface{}:
		data, err := jsonpool.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to STRING", v)
	}
}

func toInt(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return floatToInt(x)
	case jsonpool.Number:
		return parseInt(x.String())
	case string:
		return parseInt(x)
	default:
		return nil, fmt.Errorf("cannot convert %T to INTEGER", v)
	}
}

func parseInt(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errNull
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q as INTEGER", s)
	}
	return floatToInt(f)
}

const maxIntFloat = 1 << 63

func floatToInt(f float64) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if f >= maxIntFloat || f < math.MinInt64 {
		return nil, fmt.Errorf("%v overflows INTEGER", f)
	}
	return int64(f), nil
}

func toFloat(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case jsonpool.Number:
		return parseFloat(x.String())
	case string:
		return parseFloat(x)
	default:
		return nil, fmt.Errorf("cannot convert %T to FLOAT", v)
	}
}

func parseFloat(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errNull
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q as FLOAT", s)
	}
	return f, nil
}

func toBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case jsonpool.Number:
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as BOOLEAN", x.String())
		}
		return f != 0, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, errNull
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as BOOLEAN", s)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to BOOLEAN", v)
	}
}

func toTimestamp(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case civil.Date:
		return x.In(time.UTC), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, errNull
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as TIMESTAMP", s)
	default:
		return nil, fmt.Errorf("cannot convert %T to TIMESTAMP", v)
	}
}

func toDate(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case civil.Date:
		return x, nil
	case time.Time:
		return civil.DateOf(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, errNull
		}
		if d, err := civil.ParseDate(s); err == nil {
			return d, nil
		}
		ts, err := toTimestamp(s)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as DATE", s)
		}
		return civil.DateOf(ts.(time.Time)), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to DATE", v)
	}
}
