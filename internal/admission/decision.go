package admission

import (
	"context"
	"log/slog"
	"time"

	"gatekeeper/internal/admission/store"
)

// Decision is the admission outcome for one request. It is produced fresh per
// request and never mutated afterwards. A suspicious-request denial carries
// no quota fields: it is a prior-stage rejection, not a rate-limit result.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Engine composes the tier table and the counter store into per-request
// decisions. It owns the decision budget: a store that cannot answer inside
// the budget is treated as unavailable and resolved through the tier's
// fail-open or fail-closed policy, never by blocking the caller.
type Engine struct {
	classifier *Classifier
	counters   store.Store
	budget     time.Duration

	// countSuspicious controls whether detector-flagged requests still
	// consume tier quota. Off by default so an attacker forging a victim's
	// identifier cannot burn the victim's quota with garbage requests.
	countSuspicious bool

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDecisionBudget bounds the time one admission decision may spend waiting
// on the counter store.
func WithDecisionBudget(budget time.Duration) EngineOption {
	return func(e *Engine) {
		e.budget = budget
	}
}

// WithCountSuspicious makes detector-flagged requests consume quota anyway.
func WithCountSuspicious(enabled bool) EngineOption {
	return func(e *Engine) {
		e.countSuspicious = enabled
	}
}

// WithEngineClock replaces the wall clock for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a decision engine over the given tier table and store.
func NewEngine(classifier *Classifier, counters store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		classifier: classifier,
		counters:   counters,
		budget:     5 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide produces the admission decision for one (tier, identifier) pair.
// Deterministic given identical counter-store state and inputs, and never
// returns an error: every store failure resolves into an allow or deny
// according to the tier's declared policy.
func (e *Engine) Decide(ctx context.Context, tierName, identifier string, verdict Verdict) Decision {
	tier := e.classifier.Tier(tierName)

	if verdict.Suspicious {
		if e.countSuspicious {
			cctx, cancel := context.WithTimeout(ctx, e.budget)
			defer cancel()
			if _, _, err := e.counters.Increment(cctx, counterKey(tier.Name, identifier), tier.Window); err != nil {
				slog.Warn("counter store failed while charging suspicious request",
					"tier", tier.Name, "error", err)
			}
		}
		return Decision{Allowed: false}
	}

	cctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	count, windowStart, err := e.counters.Increment(cctx, counterKey(tier.Name, identifier), tier.Window)
	if err != nil {
		return e.degraded(tier, err)
	}

	resetAt := windowStart.Add(tier.Window)
	d := Decision{
		Allowed:   count <= tier.Limit,
		Limit:     tier.Limit,
		Remaining: max(0, tier.Limit-count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(0, resetAt.Sub(e.now()))
	}
	return d
}

// degraded resolves a store failure through the tier's failure policy. The
// degradation is invisible to the caller beyond the decision itself.
func (e *Engine) degraded(tier Tier, err error) Decision {
	now := e.now()
	if tier.FailOpen {
		slog.Warn("counter store unavailable, failing open",
			"tier", tier.Name, "error", err)
		return Decision{
			Allowed:   true,
			Limit:     tier.Limit,
			Remaining: tier.Limit,
			ResetAt:   now.Add(tier.Window),
		}
	}

	slog.Warn("counter store unavailable, failing closed",
		"tier", tier.Name, "error", err)
	return Decision{
		Allowed:    false,
		Limit:      tier.Limit,
		Remaining:  0,
		ResetAt:    now.Add(tier.Window),
		RetryAfter: tier.Window,
	}
}

// counterKey joins tier and identifier into the unit of accounting. The same
// caller under two tiers gets independent counters.
func counterKey(tierName, identifier string) string {
	return tierName + ":" + identifier
}
