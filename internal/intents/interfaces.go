package intents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
)

var (
	// ErrNoMatch reports a conditional update whose predicate matched no row.
	ErrNoMatch = errors.New("no intent matched the update predicate")
	// ErrDuplicate reports an insert rejected by a uniqueness constraint.
	ErrDuplicate = errors.New("intent violates a uniqueness constraint")
)

// Predicate restricts which records a conditional update may touch.
// ScopeID is always applied; zero-valued fields add no constraint.
type Predicate struct {
	ScopeID           string
	IDs               []uuid.UUID
	Statuses          []enums.IntentStatus
	ExcludeStatuses   []enums.IntentStatus
	ExpiresAfter      *time.Time
	ExpiresAtOrBefore *time.Time
}

// Mutation is the column set written by a conditional update.
type Mutation struct {
	Status        enums.IntentStatus
	FailureReason *string
	UpdatedAt     time.Time
}

// Filter narrows a list query.
type Filter struct {
	ScopeID string
	Status  *enums.IntentStatus
	Limit   int
}

// Repository is the durable record store for payment intents. Every method
// is scoped: records of one scope are never visible from another.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, scopeID string, id uuid.UUID) (*models.PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, scopeID, key string) (*models.PaymentIntent, error)
	ConditionalUpdate(ctx context.Context, pred Predicate, mut Mutation) (*models.PaymentIntent, error)
	BulkConditionalUpdate(ctx context.Context, pred Predicate, mut Mutation) ([]models.PaymentIntent, error)
	Query(ctx context.Context, filter Filter) ([]models.PaymentIntent, error)
	ExpiredScopes(ctx context.Context, asOf time.Time, limit int) ([]string, error)
}
