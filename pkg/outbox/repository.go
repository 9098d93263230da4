package outbox

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payintents-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

// Repository persists outbox_events rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes row unless the aggregate already has an event of the same
// type. It reports whether a row was written.
func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (bool, error) {
	if tx == nil {
		return false, ErrTxRequired
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	return res.RowsAffected > 0, res.Error
}

// ClaimBatch locks up to limit pending rows that still have attempts left,
// oldest first. Rows locked by another relay are skipped.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListByAggregate returns every event of the aggregate, oldest first.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// MarkPublished stamps published_at and clears the last error.
func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(tx, id, map[string]any{"published_at": at.UTC(), "last_error": nil})
}

// RecordFailure bumps attempt_count so the row is retried on a later batch.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    errorText(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Park sets attempt_count to attempts so ClaimBatch never returns the row again.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, attempts int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    errorText(cause),
		"attempt_count": attempts,
	})
}

// DeletePublishedBefore removes settled rows created before cutoff. A row is
// settled once published or once it reached minAttemptCount.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	if tx == nil {
		return 0, ErrTxRequired
	}
	res := tx.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("published_at IS NOT NULL OR attempt_count >= ?", minAttemptCount).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if tx == nil {
		return ErrTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values).Error
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncate(err.Error(), maxLastErrorLen)
	return &msg
}

// truncate caps s at n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
