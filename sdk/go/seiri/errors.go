// Package seiri provides a Go client for the Seiri case triage API.
package seiri

import (
	"errors"
	"fmt"
)

// Error represents an error from the Seiri API with the HTTP status code
// and the server's error code and message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("seiri: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsInvalidInput returns true if the server rejected the request body (400).
func IsInvalidInput(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 400
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsCircuitOpen returns true if triage was refused because the circuit
// breaker is open (503). Retry after the breaker timeout.
func IsCircuitOpen(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 503 && e.Code == "CIRCUIT_OPEN"
	}
	return false
}
