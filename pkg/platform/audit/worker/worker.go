package worker

import (
	"context"
	"log/slog"

	audit "eventlens/pkg/platform/audit"
)

// Worker drains an in-process channel of audit events into a store so request
// paths never block on operations-grade audit persistence.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run blocks until ctx is cancelled or the inbox is closed. Append failures are
// logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "dropping operations audit event",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
