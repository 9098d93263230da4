package writer

import (
	"encoding/json"
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
)

// EncodeJSON renders payload for a JSON column. Empty input is NULL; raw
// JSON passes through untouched.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return v, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{JSONVal: string(raw), Valid: true}, nil
}
