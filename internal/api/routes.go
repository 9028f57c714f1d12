package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"gatekeeper/internal/admission"
	"gatekeeper/internal/models"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithAdmissionGate places the admission middleware in front of every route.
// Registered after the caller-id middleware so authenticated callers are
// counted per account rather than per address.
func WithAdmissionGate(gate *admission.Gate) RouteOption {
	return func(r *mux.Router) {
		r.Use(gate.Middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(callerIDMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/practice/{section}", handlers.GetPracticeContent).Methods("GET")
	api.HandleFunc("/evaluations/{section}", handlers.SubmitEvaluation).Methods("POST")
	api.HandleFunc("/admin/denials", handlers.ListDenials).Methods("GET")

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		errorResp := models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}

// callerIDMiddleware surfaces the authenticated caller to the admission
// layer. Token verification belongs to the upstream identity provider; the
// bearer token itself is treated as the opaque caller id and only ever used
// in hashed form.
func callerIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
			if token := strings.TrimSpace(auth[len(prefix):]); token != "" {
				r = r.WithContext(admission.WithCallerID(r.Context(), token))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
