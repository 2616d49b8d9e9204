// Package worker drains the audit outbox to Kafka. The outbox table is the
// handoff point: stores append in the mutation's transaction, this worker
// publishes each row once and marks it published.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"redpocket/pkg/platform/circuit"
)

// OutboxWorker polls audit_outbox for unpublished rows and produces them to
// Kafka. Publishing is at-least-once; consumers dedupe on the event ID
// embedded in the payload.
type OutboxWorker struct {
	db       *sql.DB
	client   *kgo.Client
	logger   *slog.Logger
	breaker  *circuit.Breaker
	interval time.Duration
	batch    int
}

// Option configures an OutboxWorker.
type Option func(*OutboxWorker)

// WithPollInterval overrides the default 1s poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *OutboxWorker) { w.interval = d }
}

// WithBatchSize overrides the default batch of 100 rows per poll.
func WithBatchSize(n int) Option {
	return func(w *OutboxWorker) { w.batch = n }
}

// NewOutboxWorker creates a worker. brokers is the Kafka seed broker list.
func NewOutboxWorker(db *sql.DB, brokers []string, logger *slog.Logger, opts ...Option) (*OutboxWorker, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	w := &OutboxWorker{
		db:       db,
		client:   client,
		logger:   logger,
		breaker:  circuit.New("audit-kafka", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		interval: time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.publishBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox publish failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id      string
	topic   string
	key     string
	payload []byte
}

func (w *OutboxWorker) publishBatch(ctx context.Context) error {
	if w.breaker.IsOpen() {
		// Probe with a single row while the circuit is open.
		return w.publishRows(ctx, 1)
	}
	return w.publishRows(ctx, w.batch)
}

func (w *OutboxWorker) publishRows(ctx context.Context, limit int) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, topic, aggregate_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	var batch []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.topic, &r.key, &r.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range batch {
		record := &kgo.Record{Topic: r.topic, Key: []byte(r.key), Value: r.payload}
		if err := w.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			w.breaker.RecordFailure()
			return fmt.Errorf("produce audit event %s: %w", r.id, err)
		}
		w.breaker.RecordSuccess()

		if _, err := w.db.ExecContext(ctx, `
			UPDATE audit_outbox SET published_at = NOW() WHERE id = $1`,
			r.id,
		); err != nil {
			// The row will be produced again next poll; consumers dedupe.
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}
