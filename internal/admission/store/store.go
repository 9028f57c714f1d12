// Package store provides time-windowed request counters shared by all
// admission decisions. It is the only shared mutable state in the admission
// layer: implementations must make the whole read-check-write sequence for a
// key linearizable so that two concurrent requests never observe the same
// pre-increment count.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached within
// the caller's deadline. Callers resolve it through the tier's fail-open or
// fail-closed policy; it never reaches the application layer.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the counter contract. Implementations must be safe for concurrent
// use from all request-handling goroutines.
type Store interface {
	// Increment advances the counter for key within its current window and
	// returns the post-increment count together with the window start. A key
	// whose window has elapsed is reset to count 1 with a fresh window.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, windowStart time.Time, err error)

	// Get returns the current count for key without advancing it.
	// Returns 0 for unknown or expired keys.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases background goroutines and connections.
	Close() error
}
