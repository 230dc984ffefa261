package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("outbox unavailable")
}

func TestEmit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists with category and timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		p := New(store)

		err := p.Emit(ctx, audit.Event{Action: string(audit.EventClaimRecorded), Subject: "ADDR", EventID: "ev1"})
		require.NoError(t, err)

		events, _ := store.ListAll(ctx)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("requires subject and action", func(t *testing.T) {
		p := New(memory.NewInMemoryStore())
		assert.ErrorIs(t, p.Emit(ctx, audit.Event{Action: "claim_recorded"}), ErrIncompleteEvent)
		assert.ErrorIs(t, p.Emit(ctx, audit.Event{Subject: "ADDR"}), ErrIncompleteEvent)
	})

	t.Run("rejects actions from other categories", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		p := New(store)
		err := p.Emit(ctx, audit.Event{Action: string(audit.EventRateLimitExceeded), Subject: "203.0.113.7"})
		assert.ErrorIs(t, err, ErrIncompleteEvent)

		events, _ := store.ListAll(ctx)
		assert.Empty(t, events)
	})

	t.Run("fails closed when the store fails", func(t *testing.T) {
		p := New(failingStore{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		err := p.Emit(ctx, audit.Event{Action: string(audit.EventClaimUnresolved), Subject: "ADDR"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outbox unavailable")
	})
}
