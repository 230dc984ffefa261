// Package outbox moves audit rows from the Postgres outbox table to Kafka.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Producer publishes one message. Implemented by internal/platform/kafka.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Relay polls unpublished outbox rows and publishes them in creation order.
// Rows are locked with SKIP LOCKED so several replicas can relay concurrently.
type Relay struct {
	pool     *pgxpool.Pool
	producer Producer
	topic    string
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(pool *pgxpool.Pool, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		pool:     pool,
		producer: producer,
		topic:    topic,
		batch:    100,
		interval: 2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "outbox relay pass failed", "relayed", n, "error", err)
		}
		if n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type row struct {
	id          string
	aggregateID string
	payload     []byte
}

// RelayOnce publishes up to one batch and marks the published rows. A publish
// failure stops the batch; rows published before it are still marked.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id::text, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return 0, fmt.Errorf("select outbox rows: %w", err)
	}
	pending, err := pgx.CollectRows(rows, func(rs pgx.CollectableRow) (row, error) {
		var out row
		err := rs.Scan(&out.id, &out.aggregateID, &out.payload)
		return out, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan outbox rows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(pending))
	var publishErr error
	for _, p := range pending {
		if err := r.producer.Publish(ctx, r.topic, []byte(p.aggregateID), p.payload); err != nil {
			publishErr = err
			break
		}
		published = append(published, p.id)
	}

	if len(published) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = ANY($1::uuid[])`, published); err != nil {
			return 0, fmt.Errorf("mark outbox rows: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return len(published), publishErr
}
