package intents

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/payloads"
)

// CreateInput carries the caller-supplied fields of a new intent. Zero values
// select the configured defaults.
type CreateInput struct {
	Amount           int64
	Currency         string
	Method           string
	ExpiresInSeconds int
	IdempotencyKey   string
}

// ListInput narrows ListIntents.
type ListInput struct {
	Limit  int
	Status *enums.IntentStatus
}

// CreateResult reports the created intent and whether it was replayed from an
// earlier request with the same idempotency key.
type CreateResult struct {
	Intent   *IntentDTO
	Replayed bool
}

// IntentDTO is the external representation of a payment intent.
type IntentDTO struct {
	ID             uuid.UUID          `json:"id"`
	ScopeID        string             `json:"scopeId"`
	Amount         int64              `json:"amount"`
	AmountDisplay  string             `json:"amountDisplay"`
	Currency       enums.Currency     `json:"currency"`
	Method         enums.IntentMethod `json:"method"`
	Status         enums.IntentStatus `json:"status"`
	FailureReason  *string            `json:"failureReason,omitempty"`
	ExpiresAt      time.Time          `json:"expiresAt"`
	IdempotencyKey *string            `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	PayURL         string             `json:"payUrl"`
}

// ToDTO maps a stored intent to its external form. The pay URL is the
// configured base followed by the intent id.
func ToDTO(intent models.PaymentIntent, payBaseURL string) IntentDTO {
	return IntentDTO{
		ID:             intent.ID,
		ScopeID:        intent.ScopeID,
		Amount:         intent.Amount,
		AmountDisplay:  FormatAmount(intent.Amount, intent.Currency),
		Currency:       intent.Currency,
		Method:         intent.Method,
		Status:         intent.Status,
		FailureReason:  intent.FailureReason,
		ExpiresAt:      intent.ExpiresAt,
		IdempotencyKey: intent.IdempotencyKey,
		CreatedAt:      intent.CreatedAt,
		UpdatedAt:      intent.UpdatedAt,
		PayURL:         payBaseURL + intent.ID.String(),
	}
}

// FormatAmount renders minor units as a major-unit decimal string, e.g. 1250 GBP -> "12.50".
func FormatAmount(amount int64, currency enums.Currency) string {
	exp := currency.MinorUnitExponent()
	return decimal.New(amount, -exp).StringFixed(exp)
}

func eventPayload(intent models.PaymentIntent, occurredAt time.Time) payloads.IntentEvent {
	return payloads.IntentEvent{
		IntentID:      intent.ID,
		ScopeID:       intent.ScopeID,
		Status:        intent.Status,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Method:        intent.Method,
		FailureReason: intent.FailureReason,
		ExpiresAt:     intent.ExpiresAt,
		OccurredAt:    occurredAt,
	}
}
