package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/db/models"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

// DLQRepository stores outbox rows the relay gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// Insert records entry on tx, filling the id and timestamps when unset.
func (r *DLQRepository) Insert(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return ErrTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.FailedAt
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil, nil when the event was never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &entry, nil
}

// List returns the newest dead letters first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListed
	}
	var entries []models.OutboxDLQ
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// DeleteFailedBefore prunes dead letters recorded before cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, ErrTxRequired
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
