package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

type outcome string

const (
	outcomePublished    outcome = "published"
	outcomeRetried      outcome = "retried"
	outcomeDeferred     outcome = "deferred"
	outcomeDeadLettered outcome = "dead_lettered"
)

type batchReport struct {
	claimed  int
	outcomes map[outcome]int
}

func (b batchReport) count(o outcome) int { return b.outcomes[o] }

// drain claims one batch and dispatches it inside a single transaction, so
// row locks hold until every row is settled.
func (r *Relay) drain(ctx context.Context) (batchReport, error) {
	started := r.clock.Now()
	report := batchReport{outcomes: make(map[outcome]int)}

	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.ClaimBatch(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		report.claimed = len(rows)

		// Once a row of an intent is retried, its later rows wait for the
		// next batch so subscribers never see them out of order.
		held := make(map[uuid.UUID]struct{})
		for _, row := range rows {
			result := outcomeDeferred
			if _, wait := held[row.AggregateID]; !wait {
				if result, err = r.dispatch(ctx, tx, row); err != nil {
					return err
				}
			}
			if result == outcomeRetried || result == outcomeDeferred {
				held[row.AggregateID] = struct{}{}
			}
			report.outcomes[result]++
			r.metrics.ObserveDispatch(string(row.EventType), string(result))
		}
		return nil
	})
	if report.claimed > 0 {
		r.metrics.ObserveBatch(r.clock.Now().Sub(started))
	}
	return report, err
}

func (r *Relay) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	logCtx := r.logg.WithFields(r.logg.WithScopeID(ctx, row.ScopeID), map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	})

	resolved, err := r.routes.Resolve(row)
	if err != nil {
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = r.logg.WithField(logCtx, "topic", resolved.Route.Topic)

	if err := r.publish(ctx, row, resolved); err != nil {
		if registry.IsPermanent(err) {
			return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
		}
		attempts := row.AttemptCount + 1
		if attempts >= r.maxAttempts {
			return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts,
				fmt.Errorf("gave up after %d attempts: %w", attempts, err))
		}
		if err := r.events.RecordFailure(tx, row.ID, err); err != nil {
			return "", fmt.Errorf("record failure of %s: %w", row.ID, err)
		}
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed, will retry")
		return outcomeRetried, nil
	}

	if err := r.events.MarkPublished(tx, row.ID, r.clock.Now()); err != nil {
		return "", fmt.Errorf("mark %s published: %w", row.ID, err)
	}
	r.logg.Info(logCtx, "outbox event published")
	return outcomePublished, nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (outcome, error) {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.clock.Now(),
	}
	if err := r.deadLetters.Insert(tx, entry); err != nil {
		return "", fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.events.Park(tx, row.ID, cause, r.maxAttempts); err != nil {
		return "", fmt.Errorf("park %s: %w", row.ID, err)
	}
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        msg,
	}), "outbox event dead-lettered")
	return outcomeDeadLettered, nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.Resolved) error {
	pub, err := r.publishers.Publisher(resolved.Route.Topic)
	if err != nil {
		return err
	}
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: resolved.OrderingKey(),
		Attributes:  messageAttributes(row, resolved),
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if _, err := pub.Publish(publishCtx, msg).Get(publishCtx); err != nil {
		// An ordered publisher pauses the key after a failure.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

// messageAttributes carries the routing fields consumers filter on without
// decoding the body.
func messageAttributes(row models.OutboxEvent, resolved *registry.Resolved) map[string]string {
	return map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"event_version":  strconv.Itoa(resolved.Envelope.Version),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"scope_id":       row.ScopeID,
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
