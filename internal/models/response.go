// Package models - API response types and error handling.
// This file defines the outgoing response structures with consistent
// formatting across the service.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Denial responses carry a retry hint so well-behaved clients can back off
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse provides structured error information for every denied or
// failed request. Rate-limit and suspicious-request denials are the two
// user-visible failure shapes of the admission layer; everything else the
// layer degrades silently.
type ErrorResponse struct {
	Error      string    `json:"error"`                // Human-readable error description
	Code       string    `json:"code,omitempty"`       // Machine-readable error code
	RetryAfter int       `json:"retryAfter,omitempty"` // Seconds until the caller may retry (denials only)
	Timestamp  time.Time `json:"timestamp"`            // Error occurrence time
	RequestID  string    `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - RATE_LIMIT_EXCEEDED and SUSPICIOUS_REQUEST are the two admission denial
//   codes; the former maps to 429, the latter to 403
const (
	ErrorCodeRateLimited    = "RATE_LIMIT_EXCEEDED" // 429: tier quota exhausted
	ErrorCodeSuspicious     = "SUSPICIOUS_REQUEST"  // 403: flagged by the request detector
	ErrorCodeNotFound       = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeInvalidRequest = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeInternalError  = "INTERNAL_ERROR"      // 500: Server-side error
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	}
}
