package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyEnvelope reports an envelope whose data section is missing or null.
var ErrEmptyEnvelope = errors.New("outbox envelope has no data")

// PayloadEnvelope is what outbox_events.payload stores and what subscribers
// receive as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	ScopeID    string          `json:"scopeId"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload. Version 0 is read as 1.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyEnvelope
	}
	if env.Version == 0 {
		env.Version = 1
	}
	return env, nil
}
