package admission

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gatekeeper/internal/models"
)

func testDetectorConfig() models.DetectorConfig {
	return models.DetectorConfig{
		Enabled:          true,
		RequireUserAgent: true,
		MaxBodyBytes:     1 << 20,
		BadAgentPatterns: []string{"sqlmap", "masscan"},
		ReplayThreshold:  3,
		ReplayWindow:     time.Minute,
		CacheMaxEntries:  100,
		CacheTTL:         time.Minute,
	}
}

func TestDetector_CleanRequest(t *testing.T) {
	d := NewDetector(testDetectorConfig())

	r := httptest.NewRequest("GET", "/api/v1/practice/reading", nil)
	r.Header.Set("User-Agent", "ielts-app/3.2")

	v := d.Inspect(r)
	assert.False(t, v.Suspicious)
	assert.Empty(t, v.Reason)
}

func TestDetector_MissingUserAgent(t *testing.T) {
	d := NewDetector(testDetectorConfig())

	r := httptest.NewRequest("GET", "/", nil)
	v := d.Inspect(r)
	assert.True(t, v.Suspicious)
	assert.Equal(t, ReasonMissingUserAgent, v.Reason)

	cfg := testDetectorConfig()
	cfg.RequireUserAgent = false
	relaxed := NewDetector(cfg)
	assert.False(t, relaxed.Inspect(r).Suspicious)
}

func TestDetector_BadAgentPatterns(t *testing.T) {
	d := NewDetector(testDetectorConfig())

	tests := []struct {
		agent      string
		suspicious bool
	}{
		{"sqlmap/1.7", true},
		{"Mozilla/5.0 (SQLMap probe)", true},
		{"masscan-ng", true},
		{"Mozilla/5.0 (Macintosh)", false},
		{"ielts-app/3.2", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("User-Agent", tt.agent)
		v := d.Inspect(r)
		assert.Equal(t, tt.suspicious, v.Suspicious, "agent %q", tt.agent)
		if tt.suspicious {
			assert.Equal(t, ReasonBadClientAgent, v.Reason)
		}
	}
}

func TestDetector_OversizedBody(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MaxBodyBytes = 64
	d := NewDetector(cfg)

	r := httptest.NewRequest("POST", "/api/v1/evaluations/writing", strings.NewReader(strings.Repeat("a", 65)))
	r.Header.Set("User-Agent", "ielts-app/3.2")

	v := d.Inspect(r)
	assert.True(t, v.Suspicious)
	assert.Equal(t, ReasonOversizedBody, v.Reason)

	small := httptest.NewRequest("POST", "/api/v1/evaluations/writing", strings.NewReader("essay"))
	small.Header.Set("User-Agent", "ielts-app/3.2")
	assert.False(t, d.Inspect(small).Suspicious)
}

func TestDetector_PayloadReplay(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(testDetectorConfig(), WithDetectorClock(func() time.Time { return clock }))

	send := func() Verdict {
		r := httptest.NewRequest("POST", "/api/v1/evaluations/writing", strings.NewReader("same essay"))
		r.RemoteAddr = "203.0.113.7:1111"
		r.Header.Set("User-Agent", "ielts-app/3.2")
		return d.Inspect(r)
	}

	// The first threshold submissions pass, the burst after that is flagged.
	for i := 0; i < 3; i++ {
		assert.False(t, send().Suspicious, "submission %d within tolerance", i+1)
	}
	v := send()
	assert.True(t, v.Suspicious)
	assert.Equal(t, ReasonPayloadReplay, v.Reason)

	// A different peer sending the same payload is tracked independently.
	other := httptest.NewRequest("POST", "/api/v1/evaluations/writing", strings.NewReader("same essay"))
	other.RemoteAddr = "203.0.113.99:1111"
	other.Header.Set("User-Agent", "ielts-app/3.2")
	assert.False(t, d.Inspect(other).Suspicious)

	// Tokens refill once the window passes.
	clock = clock.Add(2 * time.Minute)
	assert.False(t, send().Suspicious)
}

func TestDetector_ReplayCacheBounded(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.CacheMaxEntries = 10
	cfg.CacheTTL = time.Minute

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(cfg, WithDetectorClock(func() time.Time { return clock }))

	for i := 0; i < 50; i++ {
		r := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/practice/%d", i), nil)
		r.RemoteAddr = "203.0.113.7:1111"
		r.Header.Set("User-Agent", "ielts-app/3.2")
		d.Inspect(r)
	}

	d.mu.Lock()
	size := len(d.entries)
	d.mu.Unlock()
	assert.LessOrEqual(t, size, cfg.CacheMaxEntries)

	// Idle entries are reclaimed, making room for new tracking.
	clock = clock.Add(2 * time.Minute)
	r := httptest.NewRequest("GET", "/api/v1/practice/fresh", nil)
	r.RemoteAddr = "203.0.113.7:1111"
	r.Header.Set("User-Agent", "ielts-app/3.2")
	d.Inspect(r)

	d.mu.Lock()
	_, tracked := d.entries[replayKey(r)]
	d.mu.Unlock()
	assert.True(t, tracked, "pruning frees capacity for new entries")
}

func TestDetector_ReplayDisabled(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.ReplayThreshold = 0
	d := NewDetector(cfg)

	for i := 0; i < 20; i++ {
		r := httptest.NewRequest("POST", "/api/v1/evaluations/writing", strings.NewReader("same"))
		r.RemoteAddr = "203.0.113.7:1111"
		r.Header.Set("User-Agent", "ielts-app/3.2")
		assert.False(t, d.Inspect(r).Suspicious)
	}
}
