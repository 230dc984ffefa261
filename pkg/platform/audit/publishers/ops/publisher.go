// Package ops publishes operations-grade audit events (verification outcomes)
// without blocking the request path. Events go to a bounded channel drained
// by audit/worker; when the channel is full the event is counted and dropped.
package ops

import (
	"context"
	"sync/atomic"
	"time"

	audit "eventlens/pkg/platform/audit"
)

type Publisher struct {
	inbox   chan audit.Event
	dropped atomic.Int64
}

func New(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Publisher{inbox: make(chan audit.Event, capacity)}
}

// Inbox is the channel a worker.Worker drains.
func (p *Publisher) Inbox() <-chan audit.Event {
	return p.inbox
}

func (p *Publisher) Emit(_ context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = audit.CategoryOperations
	select {
	case p.inbox <- event:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}
