package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/payloads"
)

// DecodeFunc turns an envelope data section into a typed payload.
type DecodeFunc func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry holds versioned payload decoders for consumers.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecodeFunc)}
}

// NewIntentDecoderRegistry decodes v1 of every lifecycle event into
// *payloads.IntentEvent.
func NewIntentDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	for _, eventType := range enums.IntentEventTypes() {
		reg.Register(eventType, 1, decodeAs[payloads.IntentEvent])
	}
	return reg
}

// Register sets the decoder for eventType at version, replacing any previous one.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType, version}] = fn
}

// Decode runs the decoder registered for eventType at version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for %s v%d", eventType, version)
	}
	return fn(data)
}

func decodeAs[T any](data json.RawMessage) (any, error) {
	out := new(T)
	if err := decodeJSON(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeJSON(data []byte, into any) error {
	return json.Unmarshal(data, into)
}
