package repositories

import (
	"encoding/json"
	"fmt"
)

// nullableString converts an empty string to nil for database insertion.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableJSON converts an empty raw message to nil for JSONB insertion.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// marshalJSONB marshals a value for JSONB insertion, nil when the value is
// empty so the column stores SQL NULL rather than the JSON literal "null".
func marshalJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	if string(data) == "null" || string(data) == "[]" {
		return nil, nil
	}
	return data, nil
}

// unmarshalJSONB decodes a JSONB column into dst, tolerating SQL NULL.
func unmarshalJSONB(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
