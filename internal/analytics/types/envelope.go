package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/payintents-backend/pkg/enums"
)

// Envelope represents an intent lifecycle event received from Pub/Sub.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	Version       int                       `json:"version"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	ScopeID       string                    `json:"scope_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}
