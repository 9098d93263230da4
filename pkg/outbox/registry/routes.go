// Package registry maps outbox event types to their Pub/Sub topic and
// payload schema, for the relay and for consumers.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/payloads"
)

// Route says where an event type is published and how its data decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	NewPayload    func() any
}

// Resolved is an outbox row checked against its route.
type Resolved struct {
	Route       Route
	AggregateID uuid.UUID
	Envelope    outbox.PayloadEnvelope
	Payload     any
}

// OrderingKey keeps every event of one intent in emission order on the topic.
func (r *Resolved) OrderingKey() string {
	return r.AggregateID.String()
}

// PermanentError marks a failure that no retry can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. It returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// EventRegistry holds one route per event type.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NewEventRegistry routes every intent lifecycle event to the intents topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.IntentsTopic == "" {
		return nil, errors.New("intents topic is required")
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route)}
	for _, eventType := range enums.IntentEventTypes() {
		reg.routes[eventType] = Route{
			EventType:     eventType,
			AggregateType: enums.AggregatePaymentIntent,
			Topic:         cfg.IntentsTopic,
			NewPayload:    func() any { return &payloads.IntentEvent{} },
		}
	}
	return reg, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{}, len(r.routes))
	topics := make([]string, 0, 1)
	for _, route := range r.routes {
		if _, ok := seen[route.Topic]; ok {
			continue
		}
		seen[route.Topic] = struct{}{}
		topics = append(topics, route.Topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve validates row against its route and decodes the payload. Every
// error it returns is permanent.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	route, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("no route for event type %q", row.EventType))
	case route.AggregateType != row.AggregateType:
		return nil, Permanent(fmt.Errorf("%s expects aggregate %s, row has %s", row.EventType, route.AggregateType, row.AggregateType))
	case row.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", row.EventType, err))
	}
	payload := route.NewPayload()
	if err := decodeJSON(envelope.Data, payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", row.EventType, err))
	}
	return &Resolved{
		Route:       route,
		AggregateID: row.AggregateID,
		Envelope:    envelope,
		Payload:     payload,
	}, nil
}
