package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores an opaque JSON document in a text column.
type JSON json.RawMessage

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("model.JSON: unsupported scan type %T", value)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}

// Map decodes the document into a map; an empty or non-object document yields an empty map.
func (j JSON) Map() map[string]any {
	out := map[string]any{}
	if len(j) == 0 {
		return out
	}
	_ = json.Unmarshal(j, &out)
	return out
}

// MustJSON marshals v, returning nil on failure.
func MustJSON(v any) JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return JSON(b)
}
