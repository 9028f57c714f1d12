package store

import (
	"context"
	"sync"
	"time"
)

// counter is the per-key record. prevCount carries the completed previous
// window for sliding-window interpolation; it is zero in fixed-window mode.
type counter struct {
	count       int64
	prevCount   int64
	windowStart time.Time
	window      time.Duration
}

// Memory is an in-memory Store. A single mutex guards the map; the critical
// section covers only the check-and-update for one key, never I/O. Stale
// records are reset lazily on access and reclaimed by a background sweep that
// bounds memory under high key cardinality.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter

	now       func() time.Time
	smoothing bool

	sweepInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the wall clock, used by tests to cross window
// boundaries without sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithSmoothing enables sliding-window interpolation: the reported count
// includes a weighted share of the previous window, which prevents a caller
// from bursting up to twice the limit across a window boundary. The setting
// is store-wide and applies to every key counted here; tiers that need plain
// fixed-window semantics must not share a smoothing store.
func WithSmoothing(enabled bool) MemoryOption {
	return func(m *Memory) {
		m.smoothing = enabled
	}
}

// WithSweepInterval sets the background GC cadence. The sweep is a memory
// bound, not a correctness requirement; lazy reset alone keeps counts right.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(m *Memory) {
		m.sweepInterval = interval
	}
}

// NewMemory creates an in-memory counter store and starts its sweep goroutine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters:      make(map[string]*counter),
		now:           time.Now,
		sweepInterval: time.Minute,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweep()
	return m
}

func (m *Memory) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, exists := m.counters[key]

	if !exists || now.Sub(c.windowStart) >= 2*window {
		c = &counter{count: 1, windowStart: now, window: window}
		m.counters[key] = c
		return 1, c.windowStart, nil
	}

	if elapsed := now.Sub(c.windowStart); elapsed >= window {
		// Window rollover. In smoothing mode the completed window is carried
		// over and the new window stays aligned to the old grid so the
		// interpolation weight is meaningful; in fixed mode the record is
		// simply restarted at now.
		if m.smoothing {
			c.prevCount = c.count
			c.windowStart = c.windowStart.Add((elapsed / window) * window)
		} else {
			c.prevCount = 0
			c.windowStart = now
		}
		c.count = 1
		c.window = window
		return m.effectiveCount(c, now), c.windowStart, nil
	}

	c.count++
	return m.effectiveCount(c, now), c.windowStart, nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.counters[key]
	if !exists {
		return 0, nil
	}
	now := m.now()
	if now.Sub(c.windowStart) >= c.window {
		return 0, nil
	}
	return m.effectiveCount(c, now), nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counters, key)
	return nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

// Close stops the sweep goroutine. Safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// effectiveCount returns the externally visible count. With smoothing the
// previous window contributes proportionally to how much of it still overlaps
// the trailing window ending at now. Callers hold m.mu.
func (m *Memory) effectiveCount(c *counter, now time.Time) int64 {
	if !m.smoothing || c.prevCount == 0 {
		return c.count
	}
	overlap := 1 - float64(now.Sub(c.windowStart))/float64(c.window)
	if overlap <= 0 {
		return c.count
	}
	return c.count + int64(float64(c.prevCount)*overlap)
}

// sweep periodically removes records whose window (and any smoothing
// carry-over) has fully expired.
func (m *Memory) sweep() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Memory) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, c := range m.counters {
		if now.Sub(c.windowStart) >= 2*c.window {
			delete(m.counters, key)
		}
	}
}
