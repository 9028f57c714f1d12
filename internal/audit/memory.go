package audit

import (
	"context"
	"sync"
	"time"
)

// defaultMemoryCapacity bounds the in-memory trail. Oldest events are
// overwritten once the ring is full.
const defaultMemoryCapacity = 4096

// MemoryStore keeps the denial trail in a fixed-size ring buffer. Ideal for
// development and testing; data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	next   int
	filled bool
}

// NewMemoryStore creates a memory-backed audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make([]*Event, defaultMemoryCapacity),
	}
}

// Record appends an event, overwriting the oldest once capacity is reached.
func (m *MemoryStore) Record(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	eventCopy := *event
	m.events[m.next] = &eventCopy
	m.next++
	if m.next == len(m.events) {
		m.next = 0
		m.filled = true
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.filled {
		size = len(m.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		eventCopy := *m.events[idx]
		out = append(out, &eventCopy)
	}
	return out, nil
}

// Prune removes events older than the cutoff.
func (m *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.events)
	}

	kept := make([]*Event, 0, size)
	var pruned int64
	for i := size; i >= 1; i-- {
		idx := (m.next - i + len(m.events)) % len(m.events)
		e := m.events[idx]
		if e.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}

	m.events = make([]*Event, defaultMemoryCapacity)
	copy(m.events, kept)
	m.next = len(kept) % len(m.events)
	m.filled = len(kept) == len(m.events)
	return pruned, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
