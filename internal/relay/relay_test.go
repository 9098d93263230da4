package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db/models"
	"github.com/angelmondragon/payintents-backend/pkg/enums"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

const testTopic = "payment-intent-events"

var relayNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeEvents struct {
	rows      []models.OutboxEvent
	claims    int
	claimErr  error
	published map[uuid.UUID]time.Time
	failed    []uuid.UUID
	parked    map[uuid.UUID]int
}

func (f *fakeEvents) ClaimBatch(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeEvents) MarkPublished(_ *gorm.DB, id uuid.UUID, at time.Time) error {
	if f.published == nil {
		f.published = map[uuid.UUID]time.Time{}
	}
	f.published[id] = at
	return nil
}

func (f *fakeEvents) RecordFailure(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeEvents) Park(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	if f.parked == nil {
		f.parked = map[uuid.UUID]int{}
	}
	f.parked[id] = attempts
	return nil
}

type fakeDeadLetters struct {
	entries []models.OutboxDLQ
}

func (f *fakeDeadLetters) Insert(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "server-id", r.err }

// fakePublisher fails every message whose aggregate_id is in failFor.
type fakePublisher struct {
	failFor  map[string]error
	messages []*gcppubsub.Message
	resumed  []string
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{err: p.failFor[msg.Attributes["aggregate_id"]]}
}

func (p *fakePublisher) ResumePublish(key string) { p.resumed = append(p.resumed, key) }

type fakePublishers struct {
	pub *fakePublisher
	err error
}

func (f *fakePublishers) Publisher(topic string) (publisher, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topic != testTopic {
		return nil, registry.Permanent(errors.New("unexpected topic " + topic))
	}
	return f.pub, nil
}

type harness struct {
	relay       *Relay
	events      *fakeEvents
	deadLetters *fakeDeadLetters
	publisher   *fakePublisher
}

func newHarness(t *testing.T, rows ...models.OutboxEvent) *harness {
	t.Helper()
	routes, err := registry.NewEventRegistry(config.PubSubConfig{IntentsTopic: testTopic})
	require.NoError(t, err)

	h := &harness{
		events:      &fakeEvents{rows: rows},
		deadLetters: &fakeDeadLetters{},
		publisher:   &fakePublisher{failFor: map[string]error{}},
	}
	h.relay, err = New(Params{
		Logger:       logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		DB:           &fakeDB{},
		PubSub:       fakePinger{},
		Events:       h.events,
		DeadLetters:  h.deadLetters,
		Routes:       routes,
		Publishers:   &fakePublishers{pub: h.publisher},
		Metrics:      metrics.NewOutboxMetrics(prometheus.NewRegistry()),
		Clock:        clock.NewManual(relayNow),
		MaxAttempts:  3,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return h
}

func intentRow(t *testing.T, intentID uuid.UUID, eventType enums.OutboxEventType, status enums.IntentStatus) models.OutboxEvent {
	t.Helper()
	data, err := json.Marshal(payloads.IntentEvent{
		IntentID: intentID,
		ScopeID:  "merchant_7",
		Status:   status,
		Amount:   1250,
		Currency: enums.CurrencyGBP,
		Method:   enums.IntentMethodCard,
	})
	require.NoError(t, err)
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: relayNow,
		ScopeID:    "merchant_7",
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intentID,
		ScopeID:       "merchant_7",
		Payload:       payload,
		CreatedAt:     relayNow,
	}
}

func TestDrainPublishesWithRoutingAttributes(t *testing.T) {
	intentID := uuid.New()
	row := intentRow(t, intentID, enums.EventIntentSucceeded, enums.IntentStatusSucceeded)
	h := newHarness(t, row)

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.claimed)
	assert.Equal(t, 1, report.count(outcomePublished))
	assert.Equal(t, relayNow, h.events.published[row.ID])

	require.Len(t, h.publisher.messages, 1)
	msg := h.publisher.messages[0]
	assert.Equal(t, intentID.String(), msg.OrderingKey)
	assert.JSONEq(t, string(row.Payload), string(msg.Data))
	assert.Equal(t, map[string]string{
		"event_id":       row.ID.String(),
		"event_type":     "payment_intent_succeeded",
		"event_version":  "1",
		"aggregate_type": "payment_intent",
		"aggregate_id":   intentID.String(),
		"scope_id":       "merchant_7",
		"created_at":     "2026-03-01T12:00:00Z",
	}, msg.Attributes)
}

func TestDrainRetriesTransientFailureAndContinues(t *testing.T) {
	failing := intentRow(t, uuid.New(), enums.EventIntentCreated, enums.IntentStatusPending)
	healthy := intentRow(t, uuid.New(), enums.EventIntentCreated, enums.IntentStatusPending)
	h := newHarness(t, failing, healthy)
	h.publisher.failFor[failing.AggregateID.String()] = errors.New("unavailable")

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.count(outcomeRetried))
	assert.Equal(t, 1, report.count(outcomePublished))
	assert.Equal(t, []uuid.UUID{failing.ID}, h.events.failed)
	assert.Contains(t, h.events.published, healthy.ID)
	assert.Equal(t, []string{failing.AggregateID.String()}, h.publisher.resumed)
	assert.Empty(t, h.deadLetters.entries)
}

func TestDrainHoldsLaterEventsOfRetriedIntent(t *testing.T) {
	intentID := uuid.New()
	created := intentRow(t, intentID, enums.EventIntentCreated, enums.IntentStatusPending)
	succeeded := intentRow(t, intentID, enums.EventIntentSucceeded, enums.IntentStatusSucceeded)
	h := newHarness(t, created, succeeded)
	h.publisher.failFor[intentID.String()] = errors.New("unavailable")

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.count(outcomeRetried))
	assert.Equal(t, 1, report.count(outcomeDeferred))
	assert.Len(t, h.publisher.messages, 1, "the later event must not be published ahead of the retried one")
	assert.Equal(t, []uuid.UUID{created.ID}, h.events.failed, "deferred rows keep their attempt count")
}

func TestDrainDeadLettersUnresolvableRows(t *testing.T) {
	row := intentRow(t, uuid.New(), enums.EventIntentCreated, enums.IntentStatusPending)
	row.EventType = enums.OutboxEventType("payment_intent_refunded")
	h := newHarness(t, row)

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.count(outcomeDeadLettered))
	require.Len(t, h.deadLetters.entries, 1)
	entry := h.deadLetters.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, relayNow, entry.FailedAt)
	assert.Equal(t, 3, h.events.parked[row.ID])
	assert.Empty(t, h.publisher.messages)
}

func TestDrainDeadLettersAfterLastAttempt(t *testing.T) {
	row := intentRow(t, uuid.New(), enums.EventIntentFailed, enums.IntentStatusFailed)
	row.AttemptCount = 2
	h := newHarness(t, row)
	h.publisher.failFor[row.AggregateID.String()] = errors.New("deadline exceeded")

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.count(outcomeDeadLettered))
	require.Len(t, h.deadLetters.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.deadLetters.entries[0].ErrorReason)
	assert.Contains(t, *h.deadLetters.entries[0].ErrorMessage, "gave up after 3 attempts")
	assert.Empty(t, h.events.failed)
}

func TestDrainDeadLettersWhenTopicHasNoPublisher(t *testing.T) {
	row := intentRow(t, uuid.New(), enums.EventIntentCancelled, enums.IntentStatusCancelled)
	h := newHarness(t, row)
	h.relay.publishers = &fakePublishers{err: registry.Permanent(errors.New("no publisher"))}

	report, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.count(outcomeDeadLettered))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, h.deadLetters.entries[0].ErrorReason)
}

func TestDrainReportsClaimErrors(t *testing.T) {
	h := newHarness(t)
	h.events.claimErr = errors.New("connection reset")

	_, err := h.relay.drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim outbox batch")
}

func TestRunRequiresHealthyDependencies(t *testing.T) {
	h := newHarness(t)
	h.relay.db = &fakeDB{pingErr: errors.New("db down")}
	h.relay.pubsub = fakePinger{err: errors.New("pubsub down")}

	err := h.relay.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

// flakyPinger fails the pings listed in failOn and cancels the run once it
// has answered stopAfter pings.
type flakyPinger struct {
	calls     int
	failOn    map[int]bool
	stopAfter int
	cancel    context.CancelFunc
}

func (f *flakyPinger) Ping(context.Context) error {
	f.calls++
	if f.calls >= f.stopAfter {
		f.cancel()
	}
	if f.failOn[f.calls] {
		return errors.New("pubsub unreachable")
	}
	return nil
}

func TestBatchSkipsClaimWhenDependencyDown(t *testing.T) {
	h := newHarness(t, intentRow(t, uuid.New(), enums.EventIntentCreated, enums.IntentStatusPending))
	h.relay.db = &fakeDB{pingErr: errors.New("db down")}

	_, err := h.relay.batch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping")
	assert.Zero(t, h.events.claims)
	assert.Empty(t, h.publisher.messages)
}

func TestRunChecksDependenciesBeforeEveryBatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pinger := &flakyPinger{failOn: map[int]bool{2: true}, stopAfter: 4, cancel: cancel}
	h.relay.pubsub = pinger

	assert.ErrorIs(t, h.relay.Run(ctx), context.Canceled, "a failed check mid-run does not stop the relay")
	assert.Equal(t, 4, pinger.calls)
	assert.Equal(t, 2, h.events.claims, "no claim after the failed check")
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.relay.Run(ctx), context.Canceled)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}

func TestNextBackoffCaps(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(500*time.Millisecond, 500*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(0, 500*time.Millisecond))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, 500*time.Millisecond))
}

type countingOpener struct {
	opened int
	nilPub bool
}

func (c *countingOpener) Publisher(string) *gcppubsub.Publisher {
	c.opened++
	if c.nilPub {
		return nil
	}
	return new(gcppubsub.Publisher)
}

func TestPublishersCacheOrderedPublisherPerTopic(t *testing.T) {
	opener := &countingOpener{}
	pubs := NewPublishers(opener)

	first, err := pubs.Publisher(testTopic)
	require.NoError(t, err)
	_, err = pubs.Publisher(testTopic)
	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened)
	assert.True(t, first.(orderedPublisher).EnableMessageOrdering)

	_, err = pubs.Publisher("")
	assert.True(t, registry.IsPermanent(err))

	_, err = NewPublishers(&countingOpener{nilPub: true}).Publisher(testTopic)
	assert.True(t, registry.IsPermanent(err))
}
