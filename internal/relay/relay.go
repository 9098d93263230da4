// Package relay moves committed outbox rows onto Pub/Sub.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type database interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type eventStore interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, id uuid.UUID, cause error, attempts int) error
}

type deadLetterStore interface {
	Insert(tx *gorm.DB, entry models.OutboxDLQ) error
}

type router interface {
	Resolve(row models.OutboxEvent) (*registry.Resolved, error)
}

// Params wires a Relay. Zero numeric values take defaults.
type Params struct {
	Logger         *logger.Logger
	DB             database
	PubSub         pinger
	Events         eventStore
	DeadLetters    deadLetterStore
	Routes         router
	Publishers     publisherSource
	Metrics        *metrics.OutboxMetrics
	Clock          clock.Clock
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
}

// Relay drains outbox_events in batches. Every claimed row ends a batch
// published, retried, deferred or dead-lettered.
type Relay struct {
	logg           *logger.Logger
	db             database
	pubsub         pinger
	events         eventStore
	deadLetters    deadLetterStore
	routes         router
	publishers     publisherSource
	metrics        *metrics.OutboxMetrics
	clock          clock.Clock
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case p.Routes == nil:
		return nil, errors.New("event registry is required")
	case p.Publishers == nil:
		return nil, errors.New("publishers are required")
	}
	r := &Relay{
		logg:           p.Logger,
		db:             p.DB,
		pubsub:         p.PubSub,
		events:         p.Events,
		deadLetters:    p.DeadLetters,
		routes:         p.Routes,
		publishers:     p.Publishers,
		metrics:        p.Metrics,
		clock:          p.Clock,
		batchSize:      orDefault(p.BatchSize, defaultBatchSize),
		maxAttempts:    orDefault(p.MaxAttempts, defaultMaxAttempts),
		pollInterval:   orDefault(p.PollInterval, defaultPollInterval),
		publishTimeout: orDefault(p.PublishTimeout, defaultPublishTimeout),
	}
	if r.clock == nil {
		r.clock = clock.System{}
	}
	return r, nil
}

// Run fails fast when a dependency is down at start-up, then drains batches
// until ctx ends. Every batch is preceded by the same dependency check; a
// failure there backs off like a failed batch. A batch that published
// something is followed at once by the next one.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		r.logg.Error(ctx, "outbox relay dependencies unavailable", err)
		return err
	}

	wait := r.pollInterval
	for {
		report, err := r.batch(ctx)
		if ctx.Err() != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return ctx.Err()
		}
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = nextBackoff(wait, r.pollInterval)
		case report.count(outcomePublished) > 0:
			wait = r.pollInterval
			continue
		case report.claimed > 0:
			wait = nextBackoff(wait, r.pollInterval)
		default:
			wait = r.pollInterval
		}
		if err := sleep(ctx, withJitter(wait)); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}
	}
}

// batch drains one batch once the database and Pub/Sub both answer.
func (r *Relay) batch(ctx context.Context) (batchReport, error) {
	if err := r.ready(ctx); err != nil {
		return batchReport{}, err
	}
	return r.drain(ctx)
}

func (r *Relay) ready(ctx context.Context) error {
	return multierr.Combine(
		labelled("database", r.db.Ping(ctx)),
		labelled("pubsub", r.pubsub.Ping(ctx)),
	)
}

func labelled(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s ping: %w", name, err)
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base time.Duration) time.Duration {
	if current < base {
		current = base
	}
	return min(current*2, maxBackoff)
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}
