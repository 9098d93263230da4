package enums

import "slices"

// OutboxAggregateType is the aggregate_type column of outbox_events.
type OutboxAggregateType string

const AggregatePaymentIntent OutboxAggregateType = "payment_intent"

var aggregateTypes = []OutboxAggregateType{AggregatePaymentIntent}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return lookup("aggregate type", aggregateTypes, value)
}

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventIntentCreated   OutboxEventType = "payment_intent_created"
	EventIntentSucceeded OutboxEventType = "payment_intent_succeeded"
	EventIntentFailed    OutboxEventType = "payment_intent_failed"
	EventIntentCancelled OutboxEventType = "payment_intent_cancelled"
	EventIntentExpired   OutboxEventType = "payment_intent_expired"
)

// lifecycle pairs each intent status with the event emitted on entering it.
var lifecycle = []struct {
	status IntentStatus
	event  OutboxEventType
}{
	{IntentStatusPending, EventIntentCreated},
	{IntentStatusSucceeded, EventIntentSucceeded},
	{IntentStatusFailed, EventIntentFailed},
	{IntentStatusCancelled, EventIntentCancelled},
	{IntentStatusExpired, EventIntentExpired},
}

// IntentEventTypes lists every lifecycle event in status order.
func IntentEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, 0, len(lifecycle))
	for _, step := range lifecycle {
		out = append(out, step.event)
	}
	return out
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(IntentEventTypes(), e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return lookup("event type", IntentEventTypes(), value)
}

// EventForIntentStatus returns the event emitted when an intent enters status.
func EventForIntentStatus(status IntentStatus) (OutboxEventType, bool) {
	for _, step := range lifecycle {
		if step.status == status {
			return step.event, true
		}
	}
	return "", false
}

// OutboxDLQErrorReason is why an outbox row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
