package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payintents-backend/pkg/enums"
)

// IntentEvent is the data section of every payment intent lifecycle event.
type IntentEvent struct {
	IntentID      uuid.UUID          `json:"intent_id"`
	ScopeID       string             `json:"scope_id"`
	Status        enums.IntentStatus `json:"status"`
	Amount        int64              `json:"amount"`
	Currency      enums.Currency     `json:"currency"`
	Method        enums.IntentMethod `json:"method"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
	OccurredAt    time.Time          `json:"occurred_at"`
}
