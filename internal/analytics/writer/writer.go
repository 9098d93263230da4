// Package writer streams analytics rows into BigQuery.
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/payintents-backend/internal/analytics/types"
)

const (
	defaultBatchSize = 1
	defaultAttempts  = 3
	defaultBaseDelay = 250 * time.Millisecond
	defaultMaxDelay  = 2 * time.Second
)

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Config tunes a Writer. Zero values take defaults.
type Config struct {
	Table     string
	BatchSize int
	Retry     Backoff
}

// Backoff bounds how often a failed insert is retried.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = defaultAttempts
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = defaultBaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = defaultMaxDelay
	}
	b.MaxDelay = max(b.MaxDelay, b.BaseDelay)
	return b
}

// Writer buffers payment_intent_events rows and streams them once BatchSize
// is reached. It is safe for concurrent receive callbacks. Rows carry their
// event id as the BigQuery insert id.
type Writer struct {
	inserter  rowInserter
	table     string
	batchSize int
	retry     Backoff

	mu      sync.Mutex
	pending []types.IntentEventRow
}

func New(inserter rowInserter, cfg Config) (*Writer, error) {
	if inserter == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("intent events table is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Writer{
		inserter:  inserter,
		table:     table,
		batchSize: batch,
		retry:     cfg.Retry.withDefaults(),
	}, nil
}

// Write queues row and flushes when the batch is full. A failed flush keeps
// the rows queued.
func (w *Writer) Write(ctx context.Context, row types.IntentEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush streams whatever is queued.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Pending reports how many rows wait for the next flush.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	rows := make([]any, 0, len(w.pending))
	for i := range w.pending {
		rows = append(rows, &cbigquery.StructSaver{
			Struct:   &w.pending[i],
			InsertID: w.pending[i].EventID,
		})
	}
	if err := w.insert(ctx, rows); err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(rows), w.table, err)
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *Writer) insert(ctx context.Context, rows []any) error {
	delay := w.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		err := w.inserter.InsertRows(ctx, w.table, rows)
		if err == nil || attempt >= w.retry.Attempts || !Transient(err) {
			return err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, w.retry.MaxDelay)
	}
}
