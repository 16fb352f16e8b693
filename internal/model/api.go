package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"
	ErrCodeDuplicate     = "DUPLICATE_REQUEST"
)

// TriageRequest is the request body for POST /v1/triage.
type TriageRequest struct {
	Case Case `json:"case"`
}

// TriageResponse is the success payload for POST /v1/triage.
type TriageResponse struct {
	Decision     FinalDecision `json:"decision"`
	AgentResults []AgentResult `json:"agent_results"`
}

// LoadPolicyRequest is the request body for PUT /v1/policies/{name}.
type LoadPolicyRequest struct {
	Body string `json:"body"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	Evaluator      string   `json:"evaluator"` // "ok", "unreachable", "disabled"
	PoliciesLoaded []string `json:"policies_loaded,omitempty"`
	BreakerState   string   `json:"breaker_state"`
	Uptime         int64    `json:"uptime_seconds"`
}

// AuditVerifyResponse is the response for GET /v1/audit/verify.
type AuditVerifyResponse struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}
