package database

import (
	"encoding/json"
)

// marshalList encodes a string slice for storage in a TEXT column.
func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// unmarshalList decodes a TEXT column into a string slice.
func unmarshalList(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}
