// Package ctxutil provides shared context key accessors.
//
// This package exists so server, mcp, and orchestrator code can share the
// request ID without importing each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const keyRequestID contextKey = "request_id"

// NewRequestID generates a fresh request ID.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
