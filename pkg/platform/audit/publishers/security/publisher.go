package security

import (
	"context"
	"log/slog"
	"time"

	audit "eventlens/pkg/platform/audit"
)

const (
	defaultFlushInterval = time.Second
	defaultBatchSize     = 100
)

// Publisher buffers security events in memory and flushes them to the store
// in the background. Emit never blocks; under sustained store failure the
// oldest events are dropped.
type Publisher struct {
	buffer        *RingBuffer
	store         audit.Store
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func WithBufferCapacity(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		buffer:        NewRingBuffer(0),
		store:         store,
		logger:        slog.Default(),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enqueues an event.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}
	p.buffer.Enqueue(event)
}

// Run flushes on every tick until ctx is cancelled, then performs a final flush.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer into the store. Events that fail to persist go back
// to the head of the buffer for the next flush.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for i, e := range batch {
			if err := p.store.Append(ctx, e.ToEvent()); err != nil {
				p.logger.WarnContext(ctx, "security audit flush failed",
					"action", e.Action,
					"pending", len(batch)-i,
					"error", err,
				)
				p.buffer.Requeue(batch[i:])
				return
			}
		}
	}
}

// Dropped reports events lost to buffer overflow.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}
