package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

var (
	ErrTxRequired        = errors.New("outbox: transaction required")
	ErrUnknownEventType  = errors.New("outbox: unknown event type")
	ErrAggregateRequired = errors.New("outbox: aggregate id required")
)

// DomainEvent is a lifecycle fact queued for asynchronous delivery.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	ScopeID       string
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	if e.AggregateID == uuid.Nil {
		return ErrAggregateRequired
	}
	return nil
}

type eventInserter interface {
	Insert(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (bool, error)
}

// Service appends domain events to outbox_events inside the caller's
// transaction so an event exists exactly when its state change commits.
type Service struct {
	store eventInserter
	logg  *logger.Logger
	clock clock.Clock
}

// NewService wires the emitter. logg may be nil.
func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{store: repo, logg: logg, clock: clock.System{}}
}

// WithClock overrides the clock used for events without OccurredAt.
func (s *Service) WithClock(c clock.Clock) *Service {
	if c != nil {
		s.clock = c
	}
	return s
}

// Emit queues event on tx. Emitting the same event type twice for one
// aggregate keeps only the first row.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	if err := event.validate(); err != nil {
		return err
	}
	row, err := s.row(event)
	if err != nil {
		return err
	}
	inserted, err := s.store.Insert(ctx, tx, row)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	if inserted && s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithScopeID(ctx, row.ScopeID), map[string]any{
			"event_id":     row.ID.String(),
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID.String(),
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}

func (s *Service) row(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}
	version := event.Version
	if version <= 0 {
		version = 1
	}

	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		ScopeID:    event.ScopeID,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		ScopeID:       event.ScopeID,
		Payload:       payload,
		CreatedAt:     occurredAt.UTC(),
	}, nil
}
