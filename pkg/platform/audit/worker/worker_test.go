package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/audit/store/memory"
)

func TestWorkerDrainsInbox(t *testing.T) {
	store := memory.NewInMemoryStore()
	inbox := make(chan audit.Event, 2)
	inbox <- audit.Event{Action: string(audit.EventAttendanceVerified), Subject: "ADDR1"}
	inbox <- audit.Event{Action: string(audit.EventAttendanceRejected), Subject: "ADDR2"}
	close(inbox)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, NewWorker(store, inbox, nil).Run(ctx))

	events, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
