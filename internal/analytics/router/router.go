package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payintents-backend/internal/analytics/types"
	"github.com/angelmondragon/payintents-backend/internal/analytics/writer"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/payloads"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported analytics event type")
	ErrInvalidPayload       = errors.New("invalid analytics payload")
)

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	Write(ctx context.Context, row types.IntentEventRow) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

// Router turns intent lifecycle envelopes into payment_intent_events rows.
type Router struct {
	writer   Writer
	decoders payloadDecoder
	logg     *logger.Logger
}

// NewRouter wires the row writer with the versioned payload decoders.
func NewRouter(w Writer, decoders payloadDecoder, logg *logger.Logger) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{writer: w, decoders: decoders, logg: logg}, nil
}

// Handle decodes the envelope payload and writes one analytics row.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	if envelope.AggregateType != enums.AggregatePaymentIntent || !envelope.EventType.IsValid() {
		return fmt.Errorf("%w: %s/%s", ErrUnsupportedEventType, envelope.AggregateType, envelope.EventType)
	}

	version := envelope.Version
	if version <= 0 {
		version = 1
	}
	decoded, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	event, ok := decoded.(*payloads.IntentEvent)
	if !ok || event == nil {
		return fmt.Errorf("%w: unexpected payload %T", ErrInvalidPayload, decoded)
	}

	row, err := BuildIntentEventRow(envelope, *event)
	if err != nil {
		return err
	}
	return r.writer.Write(ctx, row)
}

// BuildIntentEventRow maps an envelope and its decoded payload onto the BigQuery schema.
// Envelope values fill whatever the payload leaves empty.
func BuildIntentEventRow(envelope types.Envelope, event payloads.IntentEvent) (types.IntentEventRow, error) {
	intentID := event.IntentID
	if intentID == uuid.Nil {
		parsed, err := uuid.Parse(strings.TrimSpace(envelope.AggregateID))
		if err != nil {
			return types.IntentEventRow{}, fmt.Errorf("%w: intent id missing", ErrInvalidPayload)
		}
		intentID = parsed
	}

	scopeID := event.ScopeID
	if scopeID == "" {
		scopeID = envelope.ScopeID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = envelope.OccurredAt
	}

	payload, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.IntentEventRow{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var failureReason cbigquery.NullString
	if event.FailureReason != nil {
		failureReason = cbigquery.NullString{StringVal: *event.FailureReason, Valid: true}
	}

	exp := event.Currency.MinorUnitExponent()
	return types.IntentEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		OccurredAt:    occurredAt.UTC(),
		IntentID:      intentID.String(),
		ScopeID:       scopeID,
		Status:        string(event.Status),
		Amount:        event.Amount,
		AmountMajor:   decimal.New(event.Amount, -exp).Rat(),
		Currency:      string(event.Currency),
		Method:        string(event.Method),
		FailureReason: failureReason,
		ExpiresAt:     event.ExpiresAt.UTC(),
		Payload:       payload,
	}, nil
}
