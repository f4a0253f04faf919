// Package normalize flattens Graph API records into tabular rows.
//
// Nested objects become "_"-joined columns, list-of-action fields can be
// pivoted into one column per action type and first-value metric lists are
// reduced to their first element's value:
//
//	{"promoted_object": {"pixel_id": "9"}}            -> promoted_object_pixel_id = "9"
//	{"actions": [{"action_type": "link_click", ...}]} -> action_link_click = "3"
//	{"video_p25_watched_actions": [{"value": "7"}]}   -> video_p25_watched_actions = "7"
//
// Values are not coerced here; that is the job of the schema validator.
package normalize

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/metasync/pkg/models"
)

// Options controls per-table normalization.
type Options struct {
	// FirstValue fields hold a list of {action_type, value} objects of which
	// only the first element's value is kept
	FirstValue []string
	// Pivot maps a list field to the column prefix used for each of its
	// action types, e.g. "actions" -> "action_"
	Pivot map[string]string
	// Rename maps top-level source keys to destination column names
	Rename map[string]string
}

// Normalize converts records to a Frame. Columns appear in order of first
// occurrence across records, keys of one record taken in sorted order. An
// empty input yields an empty Frame.
func Normalize(records []models.RawRecord, opts Options) *models.Frame {
	frame := &models.Frame{}
	if len(records) == 0 {
		return frame
	}

	firstValue := make(map[string]struct{}, len(opts.FirstValue))
	for _, f := range opts.FirstValue {
		firstValue[f] = struct{}{}
	}

	seen := make(map[string]struct{})
	frame.Rows = make([]models.Row, 0, len(records))

	for _, rec := range records {
		row := make(models.Row, len(rec))
		var cols []string
		set := func(col string, v interface{}) {
			col = columnName(col)
			if _, ok := row[col]; !ok {
				cols = append(cols, col)
			}
			row[col] = v
		}

		for _, key := range sortedKeys(rec) {
			value := rec[key]

			if _, ok := firstValue[key]; ok {
				set(key, first(value))
				continue
			}
			if prefix, ok := opts.Pivot[key]; ok {
				pivot(value, prefix, set)
				continue
			}

			name := key
			if renamed, ok := opts.Rename[key]; ok {
				name = renamed
			}
			flatten(name, value, set)
		}

		for _, c := range cols {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				frame.Columns = append(frame.Columns, c)
			}
		}
		frame.Rows = append(frame.Rows, row)
	}

	return frame
}

func flatten(prefix string, value interface{}, set func(string, interface{})) {
	nested, ok := value.(map[string]interface{})
	if !ok {
		set(prefix, value)
		return
	}
	if len(nested) == 0 {
		set(prefix, nil)
		return
	}
	for _, k := range sortedKeys(nested) {
		flatten(prefix+"_"+k, nested[k], set)
	}
}

func first(value interface{}) interface{} {
	list, ok := value.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	item, ok := list[0].(map[string]interface{})
	if !ok {
		return nil
	}
	return item["value"]
}

func pivot(value interface{}, prefix string, set func(string, interface{})) {
	list, ok := value.([]interface{})
	if !ok {
		return
	}
	for _, el := range list {
		item, ok := el.(map[string]interface{})
		if !ok {
			continue
		}
		actionType, ok := item["action_type"].(string)
		if !ok || actionType == "" {
			continue
		}
		set(prefix+actionType, item["value"])
	}
}

// sortedKeys returns map keys in a stable order since decoded JSON objects
// lose their field order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columnName makes a source key path safe as a warehouse column name.
func columnName(key string) string {
	return columnReplacer.Replace(key)
}

var columnReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
