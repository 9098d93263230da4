package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const (
	defaultEventRetention = 30 * 24 * time.Hour
	defaultDLQRetention   = 90 * 24 * time.Hour
	defaultDeadAttempts   = 10
)

// OutboxRetentionJobParams configures pruning of outbox_events and
// outbox_dlq. DeadAttempts is the attempt count at which an unpublished
// event counts as settled.
type OutboxRetentionJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Events         settledEventPruner
	DeadLetters    deadLetterPruner
	Clock          clock.Clock
	EventRetention time.Duration
	DLQRetention   time.Duration
	DeadAttempts   int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type settledEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type outboxRetentionJob struct {
	logg           *logger.Logger
	db             txRunner
	events         settledEventPruner
	deadLetters    deadLetterPruner
	clock          clock.Clock
	eventRetention time.Duration
	dlqRetention   time.Duration
	deadAttempts   int
}

// NewOutboxRetentionJob builds the "outbox-retention" job. DeadLetters is
// optional; without it only outbox_events is pruned.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Events == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:           params.Logger,
		db:             params.DB,
		events:         params.Events,
		deadLetters:    params.DeadLetters,
		clock:          params.Clock,
		eventRetention: params.EventRetention,
		dlqRetention:   params.DLQRetention,
		deadAttempts:   params.DeadAttempts,
	}
	if job.clock == nil {
		job.clock = clock.System{}
	}
	if job.eventRetention <= 0 {
		job.eventRetention = defaultEventRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.deadAttempts <= 0 {
		job.deadAttempts = defaultDeadAttempts
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	eventCutoff := now.Add(-j.eventRetention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.deadAttempts)
		if err != nil {
			return fmt.Errorf("prune outbox events: %w", err)
		}
		events = n
		if j.deadLetters == nil {
			return nil
		}
		n, err = j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff)
		if err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		deadLetters = n
		return nil
	})
	if err != nil {
		return err
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dlq_cutoff":           dlqCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention complete")
	return nil
}
