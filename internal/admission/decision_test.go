package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/admission/store"
)

// failingStore simulates an unreachable counter backend.
type failingStore struct {
	increments int
}

func (f *failingStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	f.increments++
	return 0, time.Time{}, store.ErrUnavailable
}

func (f *failingStore) Get(ctx context.Context, key string) (int64, error) {
	return 0, store.ErrUnavailable
}

func (f *failingStore) Reset(ctx context.Context, key string) error { return store.ErrUnavailable }
func (f *failingStore) Ping(ctx context.Context) error              { return store.ErrUnavailable }
func (f *failingStore) Close() error                                { return nil }

func newTestEngine(t *testing.T, counters store.Store, opts ...EngineOption) *Engine {
	t.Helper()
	c, err := NewClassifier(testAdmissionConfig())
	require.NoError(t, err)
	return NewEngine(c, counters, opts...)
}

func TestEngine_AllowsUpToLimitThenDenies(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		d := e.Decide(ctx, "evaluation", "u:abc", Verdict{})
		assert.True(t, d.Allowed, "request %d within the limit", i)
		assert.Equal(t, int64(5), d.Limit)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}

	d := e.Decide(ctx, "evaluation", "u:abc", Verdict{})
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestEngine_TiersCountIndependently(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.Decide(ctx, "evaluation", "u:abc", Verdict{})
	}
	assert.False(t, e.Decide(ctx, "evaluation", "u:abc", Verdict{}).Allowed)

	// The same caller still has full quota under another tier.
	d := e.Decide(ctx, "content", "u:abc", Verdict{})
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(119), d.Remaining)
}

func TestEngine_IdentifiersCountIndependently(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.Decide(ctx, "evaluation", "u:abc", Verdict{})
	}
	assert.False(t, e.Decide(ctx, "evaluation", "u:abc", Verdict{}).Allowed)
	assert.True(t, e.Decide(ctx, "evaluation", "u:xyz", Verdict{}).Allowed)
}

func TestEngine_SuspiciousDeniedWithoutCounting(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem)
	ctx := context.Background()

	d := e.Decide(ctx, "content", "u:abc", Verdict{Suspicious: true, Reason: ReasonMissingUserAgent})
	assert.False(t, d.Allowed)

	count, err := mem.Get(ctx, "content:u:abc")
	require.NoError(t, err)
	assert.Zero(t, count, "flagged requests do not consume quota")
}

func TestEngine_SuspiciousChargedWhenConfigured(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem, WithCountSuspicious(true))
	ctx := context.Background()

	d := e.Decide(ctx, "content", "u:abc", Verdict{Suspicious: true, Reason: ReasonPayloadReplay})
	assert.False(t, d.Allowed, "charging quota never turns a flagged request into an allow")

	count, err := mem.Get(ctx, "content:u:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEngine_FailOpenTier(t *testing.T) {
	fs := &failingStore{}
	e := newTestEngine(t, fs)

	// content fails open: the store is down but requests still flow.
	for i := 0; i < 3; i++ {
		d := e.Decide(context.Background(), "content", "u:abc", Verdict{})
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(120), d.Limit)
	}
	assert.Equal(t, 3, fs.increments)
}

func TestEngine_FailClosedTier(t *testing.T) {
	e := newTestEngine(t, &failingStore{})

	// evaluation guards expensive AI grading and fails closed.
	d := e.Decide(context.Background(), "evaluation", "u:abc", Verdict{})
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

// slowStore never answers before the context expires.
type slowStore struct {
	store.Store
}

func (s *slowStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	<-ctx.Done()
	return 0, time.Time{}, ctx.Err()
}

func TestEngine_DecisionBudgetBoundsSlowStore(t *testing.T) {
	e := newTestEngine(t, &slowStore{}, WithDecisionBudget(10*time.Millisecond))

	start := time.Now()
	d := e.Decide(context.Background(), "content", "u:abc", Verdict{})
	elapsed := time.Since(start)

	assert.True(t, d.Allowed, "fail-open tier allows when the store exceeds the budget")
	assert.Less(t, elapsed, time.Second, "the decision returns shortly after the budget expires")
}

func TestEngine_UnknownTierUsesDefault(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	e := newTestEngine(t, mem)

	d := e.Decide(context.Background(), "ghost", "u:abc", Verdict{})
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(30), d.Limit)
}
