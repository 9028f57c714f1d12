package admission

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"gatekeeper/internal/models"
)

// Denial kinds passed to the audit recorder.
const (
	DenialRateLimited = "rate_limited"
	DenialSuspicious  = "suspicious"
)

// DenialRecorder receives every denial the gate emits. Implementations must
// not block; the audit writer satisfies this with a bounded async queue.
type DenialRecorder interface {
	RecordDenial(kind, tier, identifier, path, reason string)
}

// Gate is the admission middleware. It composes the detector, classifier,
// resolver and decision engine into a single http.Handler wrapper and is the
// only piece of the pipeline the rest of the service touches.
type Gate struct {
	classifier *Classifier
	resolver   *Resolver
	detector   *Detector
	engine     *Engine
	recorder   DenialRecorder
	logger     *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDetector enables the suspicious-request screen.
func WithDetector(d *Detector) GateOption {
	return func(g *Gate) {
		g.detector = d
	}
}

// WithDenialRecorder wires the audit trail.
func WithDenialRecorder(r DenialRecorder) GateOption {
	return func(g *Gate) {
		g.recorder = r
	}
}

// WithGateLogger overrides the default logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate assembles the middleware from its collaborators.
func NewGate(classifier *Classifier, resolver *Resolver, engine *Engine, opts ...GateOption) *Gate {
	g := &Gate{
		classifier: classifier,
		resolver:   resolver,
		engine:     engine,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware wraps a handler with the admission pipeline. Exempt paths pass
// through untouched, with no rate-limit headers. Everything else is screened,
// classified, counted and either forwarded or denied.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.classifier.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tier := g.classifier.Classify(r.URL.Path)
		identifier := g.resolver.Resolve(r)

		var verdict Verdict
		if g.detector != nil {
			verdict = g.detector.Inspect(r)
		}

		decision := g.engine.Decide(r.Context(), tier.Name, identifier, verdict)

		if verdict.Suspicious {
			g.denySuspicious(w, r, tier, identifier, verdict)
			return
		}

		writeQuotaHeaders(w, decision)

		if !decision.Allowed {
			g.denyRateLimited(w, r, tier, identifier, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) denySuspicious(w http.ResponseWriter, r *http.Request, tier Tier, identifier string, verdict Verdict) {
	requestID := uuid.New().String()

	g.logger.Warn("request rejected by detector",
		"request_id", requestID,
		"tier", tier.Name,
		"identifier", identifier,
		"path", r.URL.Path,
		"reason", verdict.Reason)

	if g.recorder != nil {
		g.recorder.RecordDenial(DenialSuspicious, tier.Name, identifier, r.URL.Path, verdict.Reason)
	}

	resp := models.NewErrorResponse("request rejected", models.ErrorCodeSuspicious)
	resp.RequestID = requestID
	writeJSON(w, http.StatusForbidden, resp)
}

func (g *Gate) denyRateLimited(w http.ResponseWriter, r *http.Request, tier Tier, identifier string, decision Decision) {
	requestID := uuid.New().String()
	retryAfter := int(decision.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	g.logger.Info("request rate limited",
		"request_id", requestID,
		"tier", tier.Name,
		"identifier", identifier,
		"path", r.URL.Path,
		"retry_after_seconds", retryAfter)

	if g.recorder != nil {
		g.recorder.RecordDenial(DenialRateLimited, tier.Name, identifier, r.URL.Path, models.ErrorCodeRateLimited)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	resp := models.NewErrorResponse("rate limit exceeded, slow down", models.ErrorCodeRateLimited)
	resp.RequestID = requestID
	resp.RetryAfter = retryAfter
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// writeQuotaHeaders reports the caller's current standing. Set on allowed and
// rate-limited responses alike so clients can pace themselves before hitting
// the wall.
func writeQuotaHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
