package security

import (
	"sync"

	audit "eventlens/pkg/platform/audit"
)

const defaultBufferCapacity = 10000

// RingBuffer holds pending security events up to a fixed capacity. Once full,
// each new event evicts the oldest pending one.
type RingBuffer struct {
	mu      sync.Mutex
	pending []audit.SecurityEvent
	limit   int
	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &RingBuffer{limit: capacity}
}

func (b *RingBuffer) Enqueue(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, event)
	b.trim()
}

// Requeue puts events back in front of anything enqueued since they were
// dequeued, so a failed flush keeps audit order.
func (b *RingBuffer) Requeue(events []audit.SecurityEvent) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]audit.SecurityEvent, 0, len(events)+len(b.pending))
	merged = append(merged, events...)
	b.pending = append(merged, b.pending...)
	b.trim()
}

// trim evicts from the head. Caller holds mu.
func (b *RingBuffer) trim() {
	if over := len(b.pending) - b.limit; over > 0 {
		clear(b.pending[:over])
		b.pending = b.pending[over:]
		b.dropped += int64(over)
	}
}

// DequeueBatch removes and returns up to n of the oldest events.
func (b *RingBuffer) DequeueBatch(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 || n <= 0 {
		return nil
	}
	n = min(n, len(b.pending))
	batch := make([]audit.SecurityEvent, n)
	copy(batch, b.pending[:n])
	clear(b.pending[:n])
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return batch
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
