package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seiri-ai/seiri/internal/agent"
	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/breaker"
	"github.com/seiri-ai/seiri/internal/infra"
	"github.com/seiri-ai/seiri/internal/kb"
	"github.com/seiri-ai/seiri/internal/model"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func amt(v float64) *float64 { return &v }

type stubRetriever struct{}

func (stubRetriever) DecisionSupport(context.Context, string, string, int) (map[string][]kb.Hit, error) {
	return nil, nil
}

type downEvaluator struct{}

func (downEvaluator) Enabled() bool { return true }

func (downEvaluator) Evaluate(context.Context, string, map[string]any, map[string]any) (map[string]any, error) {
	return nil, errors.New("policy: evaluate: status 503")
}

func newChain(t *testing.T) *audit.Chain {
	t.Helper()
	store, err := audit.NewFileStore(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	chain, err := audit.NewChain(store)
	require.NoError(t, err)
	return chain
}

func pipeline(t *testing.T, teams *model.TeamRegistry, eval agent.Evaluator) []agent.Step {
	t.Helper()
	return []agent.Step{
		agent.NewClassifier(nil, nil, 0.8, discard()),
		agent.NewRiskScorer(nil, 0.7, 0.4, discard()),
		agent.NewRouter(eval, teams, discard()),
		agent.NewDecisionSupport(stubRetriever{}, discard()),
		agent.NewCompliance(newChain(t), true, discard()),
	}
}

func newTriage(t *testing.T, teams *model.TeamRegistry, eval agent.Evaluator) *Orchestrator {
	t.Helper()
	o := New(pipeline(t, teams, eval), breaker.New(5, time.Minute), teams, infra.NewMemory(), 3, 30*time.Second, discard())
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func TestTriageHighRiskFraud(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)

	decision, err := o.Triage(context.Background(), &model.Case{
		Title:       "Suspicious duplicate claim",
		Description: "Multiple claims submitted within 48 hours on a brand-new policy",
		Amount:      amt(15000),
		TypeHint:    model.CaseFraudReview,
	})
	require.NoError(t, err)

	assert.Equal(t, model.CaseFraudReview, decision.Classification.CaseType)
	assert.True(t, model.UrgencyAtLeast(decision.Classification.Urgency, model.UrgencyHigh))
	assert.GreaterOrEqual(t, decision.RiskScore.RiskScore, 0.7)
	assert.Equal(t, model.RiskHigh, decision.RiskScore.RiskLevel)
	assert.Equal(t, "Escalation", decision.Routing.RecommendedTeam)
	assert.True(t, decision.Routing.EscalationFlag)
	assert.Equal(t, 4.0, decision.Routing.SLATargetHours)
}

func TestTriageRoutineClaim(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)

	decision, err := o.Triage(context.Background(), &model.Case{
		Title:       "Minor fender bender",
		Description: "Low-speed collision, small dent",
		Amount:      amt(800),
		CustomerID:  "C-100",
	})
	require.NoError(t, err)

	assert.Equal(t, model.CaseInsuranceClaim, decision.Classification.CaseType)
	assert.Equal(t, model.UrgencyLow, decision.Classification.Urgency)
	assert.Less(t, decision.RiskScore.RiskScore, 0.4)
	assert.Equal(t, model.RiskLow, decision.RiskScore.RiskLevel)
	assert.Equal(t, "Tier-2", decision.Routing.RecommendedTeam)
	assert.Equal(t, 72.0, decision.Routing.SLATargetHours)
	assert.False(t, decision.Routing.EscalationFlag)

	// A decision is always complete: five typed results plus five envelopes.
	require.NotNil(t, decision.DecisionSupport)
	require.NotNil(t, decision.Compliance)
	require.Len(t, decision.AgentResults, 5)
	assert.GreaterOrEqual(t, decision.OverallConfidence, 0.0)
	assert.LessOrEqual(t, decision.OverallConfidence, 1.0)
	assert.NotEmpty(t, decision.CaseID)
}

func TestTriageHealthcarePII(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)

	decision, err := o.Triage(context.Background(), &model.Case{
		Title:       "Emergency pre-authorization",
		Description: "Cardiac surgery required; patient SSN 123-45-6789",
		Metadata:    map[string]any{"provider": "Dr. Lee", "email": "lee@example.org"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.CaseHealthcarePriorAuth, decision.Classification.CaseType)
	assert.Equal(t, model.UrgencyCritical, decision.Classification.Urgency)
	assert.True(t, decision.Compliance.PIIDetected)
	assert.Contains(t, decision.Compliance.PIITypes, "ssn")
	assert.Contains(t, decision.Compliance.PIITypes, "email")
	assert.Contains(t, decision.Compliance.RedactedCase.Description, "[SSN_REDACTED]")
	assert.NotContains(t, decision.Compliance.RedactedCase.Description, "123-45-6789")
	assert.Contains(t, []string{"Specialist", "Escalation"}, decision.Routing.RecommendedTeam)
	assert.LessOrEqual(t, decision.Routing.SLATargetHours, 48.0)
}

func TestTriageCapacityFallback(t *testing.T) {
	teams := model.NewTeamRegistry(nil)
	require.NoError(t, teams.SetLoad("Tier-1", 95))
	o := newTriage(t, teams, nil)

	decision, err := o.Triage(context.Background(), &model.Case{
		Title:       "Urgent billing dispute",
		Description: "Unauthorized $4000 charge",
		Amount:      amt(4000),
		UrgencyHint: model.UrgencyHigh,
	})
	require.NoError(t, err)

	assert.NotEqual(t, "Tier-1", decision.Routing.RecommendedTeam)
	assert.Contains(t, model.TeamAlternatives["Tier-1"], decision.Routing.RecommendedTeam)
	assert.LessOrEqual(t, decision.Routing.Confidence, 0.855)
}

func TestTriageEvaluatorDownFallsBack(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), downEvaluator{})

	decision, err := o.Triage(context.Background(), &model.Case{
		Title:       "Windshield replacement claim",
		Description: "Standard coverage inquiry for a cracked windshield",
		Amount:      amt(300),
		CustomerID:  "C-7",
	})
	require.NoError(t, err)

	assert.NotEqual(t, "opa_policy", decision.Routing.PolicyApplied)
	assert.Equal(t, "standard_processing", decision.Routing.PolicyApplied)
	assert.Equal(t, 0, o.Breaker().Failures())
}

// failingStep counts invocations and fails while fail is set.
type failingStep struct {
	name  string
	fail  bool
	errs  string
	calls int
}

func (s *failingStep) Name() string { return s.name }

func (s *failingStep) Run(_ context.Context, in *agent.Input) model.AgentResult {
	s.calls++
	if s.fail {
		return model.AgentResult{AgentName: s.name, Error: s.errs}
	}
	res := model.AgentResult{AgentName: s.name, Confidence: 0.9}
	in.Classification = &model.ClassificationResult{CaseType: model.CaseInsuranceClaim, Urgency: model.UrgencyLow}
	return res
}

func newFailingTriage(b *breaker.Breaker, step *failingStep) *Orchestrator {
	o := New([]agent.Step{step}, b, model.NewTeamRegistry(nil), nil, 3, time.Second, discard())
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func TestBreakerOpensAndCloses(t *testing.T) {
	step := &failingStep{name: model.AgentClassifier, fail: true, errs: "classifier exploded"}
	b := breaker.New(5, 50*time.Millisecond)
	o := newFailingTriage(b, step)
	kase := &model.Case{Title: "t", Description: "d"}

	for i := 0; i < 5; i++ {
		_, err := o.Triage(context.Background(), kase)
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, b.State())

	// The 6th call fails fast without invoking any agent.
	calls := step.calls
	start := time.Now()
	_, err := o.Triage(context.Background(), kase)
	require.ErrorIs(t, err, breaker.ErrOpen)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, calls, step.calls)

	// After the timeout one successful trial closes the breaker.
	time.Sleep(60 * time.Millisecond)
	step.fail = false
	_, err = o.Triage(context.Background(), kase)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestRetryCountAndBackoff(t *testing.T) {
	step := &failingStep{name: model.AgentClassifier, fail: true, errs: "transient failure"}
	b := breaker.New(5, time.Minute)
	o := newFailingTriage(b, step)

	var slept []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := o.Triage(context.Background(), &model.Case{Title: "t", Description: "d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")

	assert.Equal(t, 3, step.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)
	assert.Equal(t, 1, b.Failures())
}

func TestCircuitBreakerErrorNotRetried(t *testing.T) {
	step := &failingStep{name: model.AgentClassifier, fail: true, errs: "downstream circuit_breaker open"}
	o := newFailingTriage(breaker.New(5, time.Minute), step)

	var slept int
	o.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	_, err := o.Triage(context.Background(), &model.Case{Title: "t", Description: "d"})
	require.Error(t, err)
	assert.Equal(t, 1, step.calls)
	assert.Equal(t, 0, slept)
}

func TestTriageInvalidInput(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)

	_, err := o.Triage(context.Background(), &model.Case{Description: "no title"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, o.Breaker().Failures())
}

func TestTriageDoesNotMutateInput(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)
	kase := &model.Case{Title: "t", Description: "d", Metadata: map[string]any{"k": "v"}}

	decision, err := o.Triage(context.Background(), kase)
	require.NoError(t, err)
	assert.Empty(t, kase.ID)
	assert.NotEmpty(t, decision.CaseID)
}

// countingStep wraps a real step to observe whether the pipeline ran.
type countingStep struct {
	agent.Step
	calls int
}

func (s *countingStep) Run(ctx context.Context, in *agent.Input) model.AgentResult {
	s.calls++
	return s.Step.Run(ctx, in)
}

func TestTriageResubmissionServedFromCache(t *testing.T) {
	teams := model.NewTeamRegistry(nil)
	steps := pipeline(t, teams, nil)
	counted := make([]agent.Step, len(steps))
	counters := make([]*countingStep, len(steps))
	for i, s := range steps {
		counters[i] = &countingStep{Step: s}
		counted[i] = counters[i]
	}
	o := New(counted, breaker.New(5, time.Minute), teams, infra.NewMemory(), 3, time.Second, discard())

	kase := &model.Case{Title: "t", Description: "d", Amount: amt(10), CustomerID: "C"}
	first, err := o.Triage(context.Background(), kase)
	require.NoError(t, err)
	second, err := o.Triage(context.Background(), kase)
	require.NoError(t, err)

	assert.Equal(t, first.CaseID, second.CaseID)
	for _, c := range counters {
		assert.Equal(t, 1, c.calls)
	}
}

func TestTriageAcquiresAndReleasesTeamLoad(t *testing.T) {
	teams := model.NewTeamRegistry(nil)
	o := newTriage(t, teams, nil)

	_, err := o.Triage(context.Background(), &model.Case{
		Title: "t", Description: "d", Amount: amt(10), CustomerID: "C",
	})
	require.NoError(t, err)
	team, ok := teams.Get("Tier-2")
	require.True(t, ok)
	assert.Equal(t, 1, team.CurrentLoad)

	// A failure after routing releases the slot again.
	fresh := model.NewTeamRegistry(nil)
	failing := &failingStep{name: model.AgentDecisionSupport, fail: true, errs: "kb exploded"}
	steps := []agent.Step{
		agent.NewClassifier(nil, nil, 0.8, discard()),
		agent.NewRiskScorer(nil, 0.7, 0.4, discard()),
		agent.NewRouter(nil, fresh, discard()),
		failing,
	}
	o2 := New(steps, breaker.New(5, time.Minute), fresh, nil, 1, time.Second, discard())
	o2.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = o2.Triage(context.Background(), &model.Case{
		Title: "t", Description: "d", Amount: amt(10), CustomerID: "C",
	})
	require.Error(t, err)
	team, ok = fresh.Get("Tier-2")
	require.True(t, ok)
	assert.Equal(t, 0, team.CurrentLoad)
}

func TestTriageCancelledContext(t *testing.T) {
	o := newTriage(t, model.NewTeamRegistry(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Triage(ctx, &model.Case{Title: "t", Description: "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
