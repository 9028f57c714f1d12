package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id string, at time.Time) *Event {
	return &Event{
		ID:         id,
		Kind:       "rate_limited",
		Tier:       "evaluation",
		Identifier: "u:abc123",
		Path:       "/api/v1/evaluations/writing",
		Reason:     "RATE_LIMIT_EXCEEDED",
		CreatedAt:  at,
	}
}

func TestMemoryStore_RecordAndRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, testEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	events, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].ID, "newest first")
	assert.Equal(t, "e3", events[1].ID)
	assert.Equal(t, "e2", events[2].ID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryStore_RecordCopiesEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := testEvent("e1", time.Now())
	require.NoError(t, s.Record(ctx, e))
	e.Reason = "mutated"

	events, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", events[0].Reason)
}

func TestMemoryStore_RingOverwritesOldest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	total := defaultMemoryCapacity + 10
	for i := 0; i < total; i++ {
		require.NoError(t, s.Record(ctx, testEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Millisecond))))
	}

	events, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, defaultMemoryCapacity)
	assert.Equal(t, fmt.Sprintf("e%d", total-1), events[0].ID)
	assert.Equal(t, fmt.Sprintf("e%d", total-defaultMemoryCapacity), events[len(events)-1].ID,
		"oldest surviving event follows the overwritten ones")
}

func TestMemoryStore_Prune(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Record(ctx, testEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	pruned, err := s.Prune(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(5), pruned)

	events, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, "e9", events[0].ID)
	assert.Equal(t, "e5", events[len(events)-1].ID)
}

func TestMemoryStore_Ping(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
