// Package audit persists a trail of admission denials. Operators use it to
// answer "who got blocked, when, and why" after the fact; the hot path only
// ever enqueues, never waits on a backend.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("audit record not found")

// Event is one recorded denial. Identifier is the opaque hashed caller key,
// never a raw address or account id.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"` // "rate_limited" or "suspicious"
	Tier       string    `json:"tier"`
	Identifier string    `json:"identifier"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the audit persistence interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record persists one denial event.
	Record(ctx context.Context, event *Event) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]*Event, error)

	// Prune removes events older than the cutoff and reports how many went.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping verifies the backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
