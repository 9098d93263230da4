package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// IntentEventRow mirrors the payment_intent_events BigQuery schema.
type IntentEventRow struct {
	EventID       string               `bigquery:"event_id"`
	EventType     string               `bigquery:"event_type"`
	OccurredAt    time.Time            `bigquery:"occurred_at"`
	IntentID      string               `bigquery:"intent_id"`
	ScopeID       string               `bigquery:"scope_id"`
	Status        string               `bigquery:"status"`
	Amount        int64                `bigquery:"amount"`
	AmountMajor   *big.Rat             `bigquery:"amount_major"`
	Currency      string               `bigquery:"currency"`
	Method        string               `bigquery:"method"`
	FailureReason cbigquery.NullString `bigquery:"failure_reason"`
	ExpiresAt     time.Time            `bigquery:"expires_at"`
	Payload       cbigquery.NullJSON   `bigquery:"payload"`
}

// IntentEventPartitionField is the day-partitioning column of the table.
const IntentEventPartitionField = "occurred_at"

// IntentEventSchema is the table schema inferred from IntentEventRow.
func IntentEventSchema() (cbigquery.Schema, error) {
	return cbigquery.InferSchema(IntentEventRow{})
}
