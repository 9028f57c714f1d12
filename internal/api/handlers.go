package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gatekeeper/internal/admission/store"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/version"
)

// Handlers contains HTTP handlers for the gatekeeper API
type Handlers struct {
	counters   store.Store
	auditStore audit.Store
	startTime  time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(counters store.Store, auditStore audit.Store) *Handlers {
	return &Handlers{
		counters:   counters,
		auditStore: auditStore,
		startTime:  time.Now(),
	}
}

// HealthCheck handles health check requests
// GET /health
// Reports overall status plus per-component health for the counter store and
// the audit trail.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	response := &models.HealthCheckResponse{
		Status:     models.StatusHealthy,
		Timestamp:  now,
		Version:    version.GetInfo().Version,
		Uptime:     now.Sub(h.startTime).Round(time.Second).String(),
		Components: make(map[string]models.ComponentHealth),
	}

	counterHealth := models.ComponentHealth{Status: models.StatusHealthy, Message: "Counter store is operational", Timestamp: now}
	if err := h.counters.Ping(r.Context()); err != nil {
		counterHealth.Status = models.StatusUnhealthy
		counterHealth.Message = err.Error()
		// Fail-open tiers keep serving without counters, so the service is
		// degraded rather than down.
		response.Status = models.StatusDegraded
	}
	response.Components["counter_store"] = counterHealth

	if h.auditStore != nil {
		auditHealth := models.ComponentHealth{Status: models.StatusHealthy, Message: "Audit trail is operational", Timestamp: now}
		if err := h.auditStore.Ping(r.Context()); err != nil {
			auditHealth.Status = models.StatusUnhealthy
			auditHealth.Message = err.Error()
			if response.Status == models.StatusHealthy {
				response.Status = models.StatusDegraded
			}
		}
		response.Components["audit"] = auditHealth
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListDenials handles audit trail queries
// GET /api/v1/admin/denials?limit=N
func (h *Handlers) ListDenials(w http.ResponseWriter, r *http.Request) {
	if h.auditStore == nil {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Audit trail is not enabled")
		return
	}

	limit := 100
	if param := r.URL.Query().Get("limit"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n <= 0 || n > 1000 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.auditStore.Recent(r.Context(), limit)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to query audit trail")
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]any{
		"denials": events,
		"count":   len(events),
	})
}

// practiceResponse is the demo payload for content endpoints.
type practiceResponse struct {
	Section   string    `json:"section"`
	Exercise  string    `json:"exercise"`
	Timestamp time.Time `json:"timestamp"`
}

// GetPracticeContent serves practice material for a section
// GET /api/v1/practice/{section}
func (h *Handlers) GetPracticeContent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	section := vars["section"]

	switch section {
	case "listening", "reading", "writing", "speaking":
	default:
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound,
			fmt.Sprintf("Unknown practice section: %s", section))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, practiceResponse{
		Section:   section,
		Exercise:  fmt.Sprintf("Sample %s exercise", section),
		Timestamp: time.Now(),
	})
}

// evaluationRequest is the inbound payload for an evaluation submission.
type evaluationRequest struct {
	Section string `json:"section"`
	Answer  string `json:"answer"`
}

// evaluationResponse acknowledges an accepted evaluation submission.
type evaluationResponse struct {
	ID        string    `json:"id"`
	Section   string    `json:"section"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitEvaluation accepts work for grading
// POST /api/v1/evaluations/{section}
// The admission layer throttles this route aggressively; each accepted
// submission triggers expensive downstream evaluation.
func (h *Handlers) SubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	section := vars["section"]

	if section != "writing" && section != "speaking" {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound,
			fmt.Sprintf("Evaluation is not available for section: %s", section))
		return
	}

	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Answer == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "answer is required")
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, evaluationResponse{
		ID:        uuid.New().String(),
		Section:   section,
		Status:    "queued",
		Timestamp: time.Now(),
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to send the client.
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
