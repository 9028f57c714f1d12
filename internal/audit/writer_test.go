package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingStore holds every Record call until released, to fill the queue.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (b *blockingStore) Record(ctx context.Context, event *Event) error {
	<-b.release
	return b.MemoryStore.Record(ctx, event)
}

func TestWriter_PersistsQueuedDenials(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, 64, 0, nil)

	for i := 0; i < 10; i++ {
		w.RecordDenial("rate_limited", "evaluation", "u:abc", "/api/v1/evaluations/writing", "RATE_LIMIT_EXCEEDED")
	}
	require.NoError(t, w.Close())

	events, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	assert.Zero(t, w.Dropped())

	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "rate_limited", e.Kind)
	assert.Equal(t, "evaluation", e.Tier)
	assert.WithinDuration(t, time.Now(), e.CreatedAt, 5*time.Second)
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	w := NewWriter(store, 4, 0, nil)

	// One event may be in flight with the backend; everything past the queue
	// capacity after that is dropped, and RecordDenial never blocks.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			w.RecordDenial("suspicious", "default", "u:abc", "/", "PAYLOAD_REPLAY")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordDenial blocked on a saturated queue")
	}
	assert.Greater(t, w.Dropped(), int64(0))

	close(store.release)
	require.NoError(t, w.Close())
}

func TestWriter_CloseDrainsQueue(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, 256, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w.RecordDenial("rate_limited", "content", "ip:feed", "/api/v1/practice/reading", "RATE_LIMIT_EXCEEDED")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	events, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, events, 80, "every queued event is flushed at shutdown")
}

func TestWriter_CloseIdempotent(t *testing.T) {
	w := NewWriter(NewMemoryStore(), 8, 0, nil)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
