package intents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/payintents-backend/pkg/db"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
)

const idempotencyConstraint = "ux_payment_intents_scope_idempotency"

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment intent repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil {
		return errors.New("intent required")
	}
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, idempotencyConstraint) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, scopeID string, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("scope_id = ? AND id = ?", scopeID, id).
		Take(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, scopeID, key string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("scope_id = ? AND idempotency_key = ?", scopeID, key).
		Take(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConditionalUpdate applies mut to the single record named by pred.IDs as one
// guarded UPDATE ... RETURNING and returns the record as written.
func (r *repository) ConditionalUpdate(ctx context.Context, pred Predicate, mut Mutation) (*models.PaymentIntent, error) {
	if len(pred.IDs) != 1 {
		return nil, errors.New("conditional update requires exactly one id")
	}
	rows, err := r.updateReturning(ctx, pred, mut)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoMatch
	}
	return &rows[0], nil
}

// BulkConditionalUpdate applies mut to every record matching pred in one
// statement and returns exactly the records it changed, oldest deadline first.
func (r *repository) BulkConditionalUpdate(ctx context.Context, pred Predicate, mut Mutation) ([]models.PaymentIntent, error) {
	rows, err := r.updateReturning(ctx, pred, mut)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rows, func(a, b models.PaymentIntent) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return rows, nil
}

func (r *repository) updateReturning(ctx context.Context, pred Predicate, mut Mutation) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := applyPredicate(r.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}), pred).
		UpdateColumns(mut.columns()).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Query(ctx context.Context, filter Filter) ([]models.PaymentIntent, error) {
	q := r.db.WithContext(ctx).Where("scope_id = ?", filter.ScopeID)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []models.PaymentIntent
	err := q.Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

// ExpiredScopes lists scopes holding at least one PENDING intent whose
// deadline is at or before asOf.
func (r *repository) ExpiredScopes(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	q := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Distinct("scope_id").
		Where("status = ? AND expires_at <= ?", enums.IntentStatusPending, asOf).
		Order("scope_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var scopes []string
	err := q.Pluck("scope_id", &scopes).Error
	return scopes, err
}

func applyPredicate(q *gorm.DB, pred Predicate) *gorm.DB {
	q = q.Where("scope_id = ?", pred.ScopeID)
	if len(pred.IDs) > 0 {
		q = q.Where("id IN ?", pred.IDs)
	}
	if len(pred.Statuses) > 0 {
		q = q.Where("status IN ?", pred.Statuses)
	}
	if len(pred.ExcludeStatuses) > 0 {
		q = q.Where("status NOT IN ?", pred.ExcludeStatuses)
	}
	if pred.ExpiresAfter != nil {
		q = q.Where("expires_at > ?", *pred.ExpiresAfter)
	}
	if pred.ExpiresAtOrBefore != nil {
		q = q.Where("expires_at <= ?", *pred.ExpiresAtOrBefore)
	}
	return q
}

func (m Mutation) columns() map[string]any {
	cols := map[string]any{
		"status":     m.Status,
		"updated_at": m.UpdatedAt,
	}
	if m.FailureReason != nil {
		cols["failure_reason"] = *m.FailureReason
	}
	return cols
}
