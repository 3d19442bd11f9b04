// Package annotation owns dataset ingestion, entry identity, visibility
// filtering, and annotation persistence.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EntryIDColumn is the identity column written to and read from the output file.
const EntryIDColumn = "entry_id"

// Sentinel conditions surfaced to callers. Neither is fatal to the process.
var (
	ErrEntryNotFound   = errors.New("entry not found")
	ErrEntryNotVisible = errors.New("entry not visible")
)

// Entry is one dataset row. ID equals the zero-based position of the row at
// load time and is never reused or renumbered. Data preserves every source
// column; column order is held by the store.
type Entry struct {
	ID   int               `json:"id"`
	URL  string            `json:"url"`
	Data map[string]string `json:"data"`
}

// Record maps annotation field names to normalized string values.
type Record map[string]string

// FieldValue is a submitted annotation value, either a scalar or a list.
// It decodes from a JSON string, array, null, or primitive.
type FieldValue struct {
	scalar string
	list   []string
	isList bool
}

// Scalar builds a scalar field value.
func Scalar(s string) FieldValue {
	return FieldValue{scalar: s}
}

// List builds a list field value.
func List(items ...string) FieldValue {
	return FieldValue{list: items, isList: true}
}

// UnmarshalJSON accepts strings, arrays, null, and bare primitives.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = FieldValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FieldValue{scalar: s}
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err == nil {
		list := make([]string, len(items))
		for i, item := range items {
			list[i] = stringify(item)
		}
		*v = FieldValue{list: list, isList: true}
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode field value: %w", err)
	}
	*v = FieldValue{scalar: stringify(raw)}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
