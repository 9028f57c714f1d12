// Package admission implements the request admission pipeline that gates
// every inbound API call: a suspicious-request screen, a path-to-tier
// classifier, a caller identifier resolver, and a windowed rate-limit
// decision engine composed behind a single HTTP middleware.
package admission

import (
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/models"
)

// Tier is a resolved rate-limit policy. The table is built once at startup
// and read-only afterwards, so it needs no locking.
type Tier struct {
	Name     string
	Window   time.Duration
	Limit    int64
	FailOpen bool
}

type routeRule struct {
	pattern string
	tier    string
}

// Classifier maps request paths to tiers. Rules are evaluated in declaration
// order and the first match wins; unmatched paths fall back to the default
// tier, which is deliberately the strictest so unknown endpoints fail safe.
type Classifier struct {
	tiers       map[string]Tier
	rules       []routeRule
	exempt      []string
	defaultTier string
}

// NewClassifier builds the tier table and route rules from configuration.
// Config validation already guarantees every rule references a known tier;
// the checks here guard against programmatic construction.
func NewClassifier(cfg models.AdmissionConfig) (*Classifier, error) {
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		tiers[tc.Name] = Tier{
			Name:     tc.Name,
			Window:   tc.Window,
			Limit:    tc.Limit,
			FailOpen: tc.FailMode != models.FailClosed,
		}
	}

	if _, ok := tiers[cfg.DefaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not defined", cfg.DefaultTier)
	}

	rules := make([]routeRule, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if _, ok := tiers[r.Tier]; !ok {
			return nil, fmt.Errorf("route %q references undefined tier %q", r.Pattern, r.Tier)
		}
		rules = append(rules, routeRule{pattern: r.Pattern, tier: r.Tier})
	}

	return &Classifier{
		tiers:       tiers,
		rules:       rules,
		exempt:      append([]string(nil), cfg.ExemptPaths...),
		defaultTier: cfg.DefaultTier,
	}, nil
}

// Classify returns the tier for a request path. Pure function, no I/O.
func (c *Classifier) Classify(path string) Tier {
	for _, r := range c.rules {
		if matchPattern(r.pattern, path) {
			return c.tiers[r.tier]
		}
	}
	return c.tiers[c.defaultTier]
}

// Exempt reports whether the path bypasses the admission pipeline entirely.
func (c *Classifier) Exempt(path string) bool {
	for _, pattern := range c.exempt {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// Tier looks up a tier by name, falling back to the default tier when the
// name is unknown.
func (c *Classifier) Tier(name string) Tier {
	if t, ok := c.tiers[name]; ok {
		return t
	}
	return c.tiers[c.defaultTier]
}

// DefaultTier returns the fallback tier.
func (c *Classifier) DefaultTier() Tier {
	return c.tiers[c.defaultTier]
}

// matchPattern matches a path against a pattern: a trailing "*" matches by
// prefix, anything else matches exactly.
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == path
}
