// Package orchestrator sequences the five triage agents over a single case
// and assembles the final decision. It owns retries, per-step deadlines, the
// circuit breaker gate, and team capacity accounting.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seiri-ai/seiri/internal/agent"
	"github.com/seiri-ai/seiri/internal/breaker"
	"github.com/seiri-ai/seiri/internal/infra"
	"github.com/seiri-ai/seiri/internal/model"
)

// ErrInvalidInput wraps case validation failures. The boundary maps it to a
// 400 response; invalid input never counts toward the circuit breaker.
var ErrInvalidInput = errors.New("orchestrator: invalid case")

// resultTTL bounds how long an identical re-submission is served from cache.
const resultTTL = time.Hour

var tracer = otel.Tracer("seiri/orchestrator")

// Orchestrator runs the triage pipeline. One instance serves many concurrent
// runs; per-run state lives entirely in the agent.Input threaded through the
// steps.
type Orchestrator struct {
	steps   []agent.Step
	breaker *breaker.Breaker
	teams   *model.TeamRegistry
	cache   infra.Cache
	logger  *slog.Logger

	maxRetries  int
	stepTimeout time.Duration

	// sleep is swappable so retry tests run without wall-clock backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles an orchestrator. Steps run in the given order; the caller is
// responsible for passing them in dependency order. cache may be nil, in
// which case re-submissions always recompute.
func New(steps []agent.Step, b *breaker.Breaker, teams *model.TeamRegistry, cache infra.Cache, maxRetries int, stepTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		steps:       steps,
		breaker:     b,
		teams:       teams,
		cache:       cache,
		logger:      logger,
		maxRetries:  maxRetries,
		stepTimeout: stepTimeout,
		sleep:       sleepCtx,
	}
}

// Breaker exposes the circuit breaker for the admin reset endpoint and
// health reporting.
func (o *Orchestrator) Breaker() *breaker.Breaker { return o.breaker }

// Teams exposes the team registry for the boundary's team listing.
func (o *Orchestrator) Teams() *model.TeamRegistry { return o.teams }

// Triage runs the full pipeline for one case. It returns either a complete
// FinalDecision or an error; partial decisions are never returned. The input
// case is never mutated.
func (o *Orchestrator) Triage(ctx context.Context, c *model.Case) (*model.FinalDecision, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := o.breaker.Allow(); err != nil {
		return nil, err
	}

	key := cacheKey(c)
	if cached := o.cachedDecision(ctx, key); cached != nil {
		// A served decision is a successful run; this also completes a
		// half-open trial admitted by Allow.
		o.breaker.Success()
		return cached, nil
	}

	run := c.Clone()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	ctx, span := tracer.Start(ctx, "triage",
		trace.WithAttributes(attribute.String("seiri.case_id", run.ID)),
	)
	defer span.End()

	start := time.Now()
	decision, err := o.runPipeline(ctx, &run)
	if err != nil {
		o.breaker.Failure()
		o.logger.Error("triage failed",
			"case_id", run.ID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	o.breaker.Success()
	o.storeDecision(ctx, key, decision)
	o.logger.Info("triage complete",
		"case_id", run.ID,
		"case_type", decision.Classification.CaseType,
		"risk_level", decision.RiskScore.RiskLevel,
		"team", decision.Routing.RecommendedTeam,
		"overall_confidence", decision.OverallConfidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return decision, nil
}

// runPipeline executes the steps sequentially, acquiring team capacity once
// routing has picked a team and releasing it again if a later step fails.
func (o *Orchestrator) runPipeline(ctx context.Context, c *model.Case) (*model.FinalDecision, error) {
	in := agent.NewInput(c)
	acquired := ""
	release := func() {
		if acquired != "" {
			o.teams.Release(acquired)
			acquired = ""
		}
	}

	for _, step := range o.steps {
		res, err := o.runStep(ctx, step, in)
		if err != nil {
			release()
			return nil, err
		}
		in.Results = append(in.Results, res)

		if step.Name() == model.AgentRouter && in.Routing != nil {
			team := in.Routing.RecommendedTeam
			if err := o.teams.Acquire(team); err != nil {
				// The router already steered away from saturated teams; a
				// lost race here is not worth failing the run over.
				o.logger.Warn("team acquire failed", "case_id", c.ID, "team", team, "error", err)
			} else {
				acquired = team
			}
		}
	}

	return &model.FinalDecision{
		CaseID:            c.ID,
		Classification:    in.Classification,
		RiskScore:         in.Risk,
		Routing:           in.Routing,
		DecisionSupport:   in.Support,
		Compliance:        in.Compliance,
		AgentResults:      in.Results,
		OverallConfidence: model.OverallConfidence(in.Results),
		CompletedAt:       time.Now().UTC(),
	}, nil
}

// runStep runs one agent with a per-attempt deadline, retrying up to
// maxRetries times with 2^attempt seconds of backoff after each failed
// attempt. Errors mentioning the circuit breaker propagate immediately.
func (o *Orchestrator) runStep(ctx context.Context, step agent.Step, in *agent.Input) (model.AgentResult, error) {
	stepCtx, span := tracer.Start(ctx, "agent."+step.Name())
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if err := stepCtx.Err(); err != nil {
			return model.AgentResult{}, fmt.Errorf("orchestrator: %s: %w", step.Name(), err)
		}

		attemptCtx, cancel := context.WithTimeout(stepCtx, o.stepTimeout)
		res := step.Run(attemptCtx, in)
		cancel()

		if res.Error == "" {
			span.SetAttributes(
				attribute.Float64("seiri.confidence", res.Confidence),
				attribute.Bool("seiri.soft_failure", res.SoftFailure),
				attribute.Int("seiri.attempts", attempt+1),
			)
			return res, nil
		}

		lastErr = errors.New(res.Error)
		if strings.Contains(strings.ToLower(res.Error), "circuit_breaker") {
			return model.AgentResult{}, fmt.Errorf("orchestrator: %s: %w", step.Name(), lastErr)
		}
		o.logger.Warn("agent attempt failed",
			"agent", step.Name(),
			"attempt", attempt+1,
			"error", res.Error,
		)
		if err := o.sleep(stepCtx, time.Duration(1<<attempt)*time.Second); err != nil {
			return model.AgentResult{}, fmt.Errorf("orchestrator: %s: %w", step.Name(), err)
		}
	}

	return model.AgentResult{}, fmt.Errorf("orchestrator: %s failed after %d attempts: %w", step.Name(), o.maxRetries, lastErr)
}

// cachedDecision returns a previously computed decision for an identical
// submission, or nil. Cache trouble is logged and treated as a miss.
func (o *Orchestrator) cachedDecision(ctx context.Context, key string) *model.FinalDecision {
	if o.cache == nil {
		return nil
	}
	var decision model.FinalDecision
	ok, err := infra.GetJSON(ctx, o.cache, key, &decision)
	if err != nil {
		o.logger.Warn("triage cache read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &decision
}

func (o *Orchestrator) storeDecision(ctx context.Context, key string, decision *model.FinalDecision) {
	if o.cache == nil {
		return
	}
	if err := infra.SetJSON(ctx, o.cache, key, decision, resultTTL); err != nil {
		o.logger.Warn("triage cache write failed", "error", err)
	}
}

// cacheKey derives a stable key from the submitted case content via its
// canonical JSON form, so identical re-submissions hit regardless of field
// ordering in the request body.
func cacheKey(c *model.Case) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return "seiri:triage:" + c.ID
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "seiri:triage:" + c.ID
	}
	sum := sha256.Sum256(canonical)
	return "seiri:triage:" + hex.EncodeToString(sum[:])
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
