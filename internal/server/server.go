// Package server implements the HTTP API for the triage core.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/infra"
	"github.com/seiri-ai/seiri/internal/orchestrator"
	"github.com/seiri-ai/seiri/internal/policy"
)

// Server is the triage HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and settings for creating a Server.
// Optional fields (nil-safe): Watcher, Limiter, Queue, Idempotency, MCPServer.
type Config struct {
	// Required dependencies.
	Orchestrator *orchestrator.Orchestrator
	Chain        *audit.Chain
	Policies     *policy.Client
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Watcher     *policy.Watcher
	Limiter     infra.Limiter
	Queue       infra.Queue
	Idempotency infra.Idempotency
	MCPServer   *mcpserver.MCPServer

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	RateLimitPerMinute  int
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := newHandlers(cfg)

	triageRL := rateLimitMiddleware(cfg.Limiter, "triage", cfg.RateLimitPerMinute, time.Minute, cfg.Logger)

	mux := http.NewServeMux()

	// Triage (rate limited per client).
	mux.Handle("POST /v1/triage", triageRL(http.HandlerFunc(h.HandleTriage)))

	// Team catalogue.
	mux.HandleFunc("GET /v1/teams", h.HandleListTeams)

	// Audit chain verification.
	mux.HandleFunc("GET /v1/audit/verify", h.HandleAuditVerify)

	// Policy management, proxied to the evaluator.
	mux.HandleFunc("GET /v1/policies", h.HandleListPolicies)
	mux.HandleFunc("PUT /v1/policies/{name}", h.HandleLoadPolicy)
	mux.HandleFunc("DELETE /v1/policies/{name}", h.HandleDeletePolicy)

	// Admin.
	mux.HandleFunc("POST /v1/admin/breaker/reset", h.HandleBreakerReset)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// API specification.
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
