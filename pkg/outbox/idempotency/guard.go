// Package idempotency deduplicates at-least-once event deliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConsumerRequired = errors.New("idempotency: consumer name required")
	ErrEventIDRequired  = errors.New("idempotency: event id required")
)

type markerStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Guard remembers which events a consumer has taken, for ttl. Keys look like
// pi:idempotency:evt:<consumer>:<event_id>.
type Guard struct {
	store markerStore
	ttl   time.Duration
}

// NewGuard returns a Guard. A zero ttl keeps markers until evicted.
func NewGuard(store markerStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency: store required")
	}
	if ttl < 0 {
		return nil, errors.New("idempotency: ttl must not be negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim marks eventID as taken by consumer. It returns false when an earlier
// delivery already claimed it.
func (g *Guard) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, "1", g.ttl)
}

// Release drops the claim so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if eventID == uuid.Nil {
		return "", ErrEventIDRequired
	}
	return g.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
