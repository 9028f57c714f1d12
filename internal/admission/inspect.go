package admission

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"gatekeeper/internal/models"
)

// Verdict is the detector's output: a yes/no flag plus a reason code for
// logging and the audit trail. It is derived solely from the request's shape
// and carries no quota information.
type Verdict struct {
	Suspicious bool
	Reason     string
}

// Detector reason codes.
const (
	ReasonMissingUserAgent = "MISSING_USER_AGENT"
	ReasonBadClientAgent   = "BAD_CLIENT_SIGNATURE"
	ReasonOversizedBody    = "OVERSIZED_BODY"
	ReasonPayloadReplay    = "PAYLOAD_REPLAY"
)

// replayEntry tracks one (peer, payload signature) pair. The limiter tolerates
// the configured number of identical payloads per replay window.
type replayEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Detector screens requests before any counting happens. All checks except
// the replay screen are stateless; the replay screen keeps a cache bounded in
// both entry count and entry lifetime so adversarial traffic cannot grow it
// without limit.
type Detector struct {
	requireUserAgent bool
	maxBodyBytes     int64
	badAgents        []string

	replayThreshold int
	replayWindow    time.Duration
	cacheMaxEntries int
	cacheTTL        time.Duration

	mu      sync.Mutex
	entries map[string]*replayEntry

	now func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorClock replaces the wall clock for tests.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector builds a detector from configuration. Bad-agent patterns are
// matched case-insensitively as substrings of the User-Agent header.
func NewDetector(cfg models.DetectorConfig, opts ...DetectorOption) *Detector {
	badAgents := make([]string, 0, len(cfg.BadAgentPatterns))
	for _, p := range cfg.BadAgentPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			badAgents = append(badAgents, p)
		}
	}

	d := &Detector{
		requireUserAgent: cfg.RequireUserAgent,
		maxBodyBytes:     cfg.MaxBodyBytes,
		badAgents:        badAgents,
		replayThreshold:  cfg.ReplayThreshold,
		replayWindow:     cfg.ReplayWindow,
		cacheMaxEntries:  cfg.CacheMaxEntries,
		cacheTTL:         cfg.CacheTTL,
		entries:          make(map[string]*replayEntry),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inspect screens one request. A clean verdict has Suspicious=false and an
// empty reason.
func (d *Detector) Inspect(r *http.Request) Verdict {
	ua := r.Header.Get("User-Agent")

	if d.requireUserAgent && strings.TrimSpace(ua) == "" {
		return Verdict{Suspicious: true, Reason: ReasonMissingUserAgent}
	}

	lowered := strings.ToLower(ua)
	for _, pattern := range d.badAgents {
		if strings.Contains(lowered, pattern) {
			return Verdict{Suspicious: true, Reason: ReasonBadClientAgent}
		}
	}

	if d.maxBodyBytes > 0 && r.ContentLength > d.maxBodyBytes {
		return Verdict{Suspicious: true, Reason: ReasonOversizedBody}
	}

	if d.replayThreshold > 0 && d.replayBurst(r) {
		return Verdict{Suspicious: true, Reason: ReasonPayloadReplay}
	}

	return Verdict{}
}

// replayBurst reports whether the same peer has sent this payload signature
// faster than the tolerated rate.
func (d *Detector) replayBurst(r *http.Request) bool {
	key := replayKey(r)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		if len(d.entries) >= d.cacheMaxEntries {
			d.pruneLocked(now)
		}
		if len(d.entries) >= d.cacheMaxEntries {
			// Cache is saturated with live entries; skip tracking rather than
			// grow without bound. The rate limiter behind the detector still
			// caps whatever slips through.
			return false
		}
		every := d.replayWindow / time.Duration(d.replayThreshold)
		e = &replayEntry{limiter: rate.NewLimiter(rate.Every(every), d.replayThreshold)}
		d.entries[key] = e
	}
	e.lastSeen = now

	return !e.limiter.AllowN(now, 1)
}

// pruneLocked drops entries idle past the TTL. Callers hold d.mu.
func (d *Detector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.cacheTTL)
	for key, e := range d.entries {
		if e.lastSeen.Before(cutoff) {
			delete(d.entries, key)
		}
	}
}

// replayKey fingerprints the payload shape per raw peer. Reading the body in
// the hot path is off the table, so the signature uses the declared shape:
// method, path, declared length and agent.
func replayKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	dgst := xxhash.New()
	dgst.WriteString(r.Method)
	dgst.WriteString("|")
	dgst.WriteString(r.URL.Path)
	dgst.WriteString("|")
	dgst.WriteString(strconv.FormatInt(r.ContentLength, 10))
	dgst.WriteString("|")
	dgst.WriteString(r.Header.Get("User-Agent"))

	return host + ":" + strconv.FormatUint(dgst.Sum64(), 16)
}
