// Package compliance records issuance facts (claim recorded, resolved or left
// unresolved, event created). Emit writes synchronously and returns the store
// error, so a caller inside a transaction rolls back together with its audit row.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "eventlens/pkg/platform/audit"
)

var ErrIncompleteEvent = errors.New("compliance event incomplete")

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	switch {
	case event.Subject == "":
		return fmt.Errorf("%w: %s has no subject", ErrIncompleteEvent, event.Action)
	case event.Action == "":
		return fmt.Errorf("%w: no action", ErrIncompleteEvent)
	case audit.AuditEvent(event.Action).Category() != audit.CategoryCompliance:
		return fmt.Errorf("%w: %s is not a compliance action", ErrIncompleteEvent, event.Action)
	}
	start := p.now()
	if event.Timestamp.IsZero() {
		event.Timestamp = start
	}
	event.Category = audit.CategoryCompliance

	err := p.store.Append(ctx, event)
	p.metrics.observe(err, time.Since(start))
	if err != nil {
		p.logger.ErrorContext(ctx, "compliance audit write failed",
			"action", event.Action,
			"subject", event.Subject,
			"event_id", event.EventID,
			"tx_id", event.TxID,
			"error", err,
		)
		return fmt.Errorf("append compliance event: %w", err)
	}
	return nil
}
