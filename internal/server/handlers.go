package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/breaker"
	"github.com/seiri-ai/seiri/internal/ctxutil"
	"github.com/seiri-ai/seiri/internal/infra"
	"github.com/seiri-ai/seiri/internal/model"
	"github.com/seiri-ai/seiri/internal/orchestrator"
	"github.com/seiri-ai/seiri/internal/policy"
)

const (
	// deferredQueue parks cases refused while the circuit breaker was open;
	// they are replayed when the breaker is reset.
	deferredQueue = "triage_deferred"

	// idempotencyTTL bounds how long an Idempotency-Key blocks duplicate
	// submissions.
	idempotencyTTL = time.Minute
)

// handlers holds HTTP handler dependencies.
type handlers struct {
	orch     *orchestrator.Orchestrator
	chain    *audit.Chain
	policies *policy.Client
	watcher  *policy.Watcher
	queue    infra.Queue
	idem     infra.Idempotency
	logger   *slog.Logger

	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

func newHandlers(cfg Config) *handlers {
	return &handlers{
		orch:                cfg.Orchestrator,
		chain:               cfg.Chain,
		policies:            cfg.Policies,
		watcher:             cfg.Watcher,
		queue:               cfg.Queue,
		idem:                cfg.Idempotency,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
}

// HandleTriage handles POST /v1/triage.
func (h *handlers) HandleTriage(w http.ResponseWriter, r *http.Request) {
	var req model.TriageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	// Single-writer guard: the first request holding a key proceeds, later
	// ones within the TTL are refused. Backend errors are fail-open.
	if h.idem != nil {
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			acquired, err := h.idem.Acquire(r.Context(), "seiri:idem:"+key, idempotencyTTL)
			if err != nil {
				h.logger.Warn("idempotency check failed", "error", err)
			} else if !acquired {
				writeError(w, r, http.StatusConflict, model.ErrCodeDuplicate,
					"a request with this Idempotency-Key was already accepted")
				return
			}
		}
	}

	decision, err := h.orch.Triage(r.Context(), &req.Case)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		case errors.Is(err, breaker.ErrOpen):
			h.deferCase(r.Context(), req.Case)
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeCircuitOpen, "triage temporarily unavailable")
		default:
			h.logger.Error("triage request failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "triage failed")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, model.TriageResponse{
		Decision:     *decision,
		AgentResults: decision.AgentResults,
	})
}

// HandleListTeams handles GET /v1/teams.
func (h *handlers) HandleListTeams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.orch.Teams().List())
}

// HandleAuditVerify handles GET /v1/audit/verify.
func (h *handlers) HandleAuditVerify(w http.ResponseWriter, r *http.Request) {
	entries, err := h.chain.Verify()
	resp := model.AuditVerifyResponse{Valid: err == nil, Entries: entries}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleBreakerReset handles POST /v1/admin/breaker/reset. Cases deferred
// while the breaker was open are replayed before responding.
func (h *handlers) HandleBreakerReset(w http.ResponseWriter, r *http.Request) {
	h.orch.Breaker().Reset()
	h.logger.Info("circuit breaker reset", "request_id", ctxutil.RequestIDFromContext(r.Context()))
	replayed := h.replayDeferred(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]any{
		"state":    string(h.orch.Breaker().State()),
		"failures": h.orch.Breaker().Failures(),
		"replayed": replayed,
	})
}

// deferCase parks a case refused by the open breaker so it can be replayed
// after a reset. Best effort; the client still receives the 503.
func (h *handlers) deferCase(ctx context.Context, kase model.Case) {
	if h.queue == nil {
		return
	}
	raw, err := json.Marshal(kase)
	if err != nil {
		return
	}
	var job map[string]any
	if err := json.Unmarshal(raw, &job); err != nil {
		return
	}
	if err := h.queue.Enqueue(ctx, deferredQueue, job, urgencyPriority(kase.UrgencyHint)); err != nil {
		h.logger.Warn("deferred enqueue failed", "error", err)
		return
	}
	h.logger.Info("case deferred while breaker open", "case_id", kase.ID)
}

// replayDeferred re-runs parked cases in priority order. It stops on the
// first triage failure so a still-broken downstream reopens the breaker
// without burning through the backlog.
func (h *handlers) replayDeferred(ctx context.Context) int {
	if h.queue == nil {
		return 0
	}
	replayed := 0
	for {
		job, ok, err := h.queue.Dequeue(ctx, deferredQueue)
		if err != nil {
			h.logger.Warn("deferred dequeue failed", "error", err)
			return replayed
		}
		if !ok {
			return replayed
		}
		raw, err := json.Marshal(job)
		if err != nil {
			continue
		}
		var kase model.Case
		if err := json.Unmarshal(raw, &kase); err != nil {
			continue
		}
		if _, err := h.orch.Triage(ctx, &kase); err != nil {
			h.logger.Warn("deferred replay failed", "case_id", kase.ID, "error", err)
			return replayed
		}
		replayed++
	}
}

func urgencyPriority(u model.Urgency) int {
	switch u {
	case model.UrgencyCritical:
		return 3
	case model.UrgencyHigh:
		return 2
	case model.UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// HandleListPolicies handles GET /v1/policies.
func (h *handlers) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	if !h.policies.Enabled() {
		writeJSON(w, r, http.StatusOK, []string{})
		return
	}
	ids, err := h.policies.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, ids)
}

// HandleLoadPolicy handles PUT /v1/policies/{name}.
func (h *handlers) HandleLoadPolicy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req model.LoadPolicyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "policy body must not be empty")
		return
	}
	if err := h.policies.Load(r.Context(), name, req.Body); err != nil {
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"name": name})
}

// HandleDeletePolicy handles DELETE /v1/policies/{name}.
func (h *handlers) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.policies.Delete(r.Context(), name); err != nil {
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"name": name})
}

// HandleHealth handles GET /health.
func (h *handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	evaluator := "disabled"
	if h.policies.Enabled() {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.policies.Health(ctx); err != nil {
			evaluator = "unreachable"
		} else {
			evaluator = "ok"
		}
	}

	resp := model.HealthResponse{
		Status:       "ok",
		Version:      h.version,
		Evaluator:    evaluator,
		BreakerState: string(h.orch.Breaker().State()),
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	}
	if h.watcher != nil {
		resp.PoliciesLoaded = h.watcher.Loaded()
	}
	writeJSON(w, r, http.StatusOK, resp)
}
