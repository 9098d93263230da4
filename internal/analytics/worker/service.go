// Package worker consumes intent lifecycle messages for analytics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/internal/analytics/router"
	"github.com/angelmondragon/payintents-backend/internal/analytics/types"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
)

const consumerName = "intent-analytics"

// Consumption outcomes, also used as the analytics_events_total result label.
const (
	resultWritten   = "written"
	resultDuplicate = "duplicate"
	resultDropped   = "dropped"
	resultRetry     = "retry"
)

// Handler turns one envelope into analytics rows.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Params wires a Service. Metrics is optional.
type Params struct {
	Subscription receiver
	Handler      Handler
	Guard        claimer
	Logger       *logger.Logger
	Metrics      *metrics.AnalyticsMetrics
}

// Service acks every message it has either written or can never write, and
// nacks the rest so Pub/Sub redelivers them.
type Service struct {
	sub     receiver
	handler Handler
	guard   claimer
	logg    *logger.Logger
	metrics *metrics.AnalyticsMetrics
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case p.Handler == nil:
		return nil, errors.New("analytics handler is required")
	case p.Guard == nil:
		return nil, errors.New("idempotency guard is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		sub:     p.Subscription,
		handler: p.Handler,
		guard:   p.Guard,
		logg:    p.Logger,
		metrics: p.Metrics,
	}, nil
}

// Run receives until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.consume(msgCtx, msg) == resultRetry {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) consume(ctx context.Context, msg *gcppubsub.Message) string {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	env, err := envelopeFromMessage(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "analytics message dropped")
		s.metrics.ObserveEvent(strings.TrimSpace(msg.Attributes["event_type"]), resultDropped)
		return resultDropped
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":     env.EventID,
		"event_type":   env.EventType,
		"aggregate_id": env.AggregateID,
		"scope_id":     env.ScopeID,
	})

	result := s.handle(ctx, env)
	s.metrics.ObserveEvent(string(env.EventType), result)
	return result
}

func (s *Service) handle(ctx context.Context, env types.Envelope) string {
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		s.logg.Warn(ctx, "analytics event has malformed id")
		return resultDropped
	}

	fresh, err := s.guard.Claim(ctx, consumerName, eventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency claim failed", err)
		return resultRetry
	}
	if !fresh {
		s.logg.Info(ctx, "analytics event already consumed")
		return resultDuplicate
	}

	err = s.handler.Handle(ctx, env)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event written")
		return resultWritten
	case errors.Is(err, router.ErrUnsupportedEventType), errors.Is(err, router.ErrInvalidPayload):
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "analytics event dropped")
		return resultDropped
	}

	s.logg.Error(ctx, "analytics write failed", err)
	if relErr := s.guard.Release(ctx, consumerName, eventID); relErr != nil {
		s.logg.Error(ctx, "idempotency release failed", relErr)
	}
	return resultRetry
}

// envelopeFromMessage reads the routing attributes set by the relay and the
// stored envelope in the body. Body values win over attributes.
func envelopeFromMessage(msg *gcppubsub.Message) (types.Envelope, error) {
	attr := func(name string) string { return strings.TrimSpace(msg.Attributes[name]) }

	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return types.Envelope{}, err
	}
	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, errors.New("aggregate_id missing")
	}

	eventID := firstNonEmpty(strings.TrimSpace(stored.EventID), attr("event_id"))
	if eventID == "" {
		return types.Envelope{}, errors.New("event_id missing")
	}
	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		occurredAt, _ = time.Parse(time.RFC3339Nano, attr("created_at"))
	}

	return types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		Version:       stored.Version,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		ScopeID:       firstNonEmpty(strings.TrimSpace(stored.ScopeID), attr("scope_id")),
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
