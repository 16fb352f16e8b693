package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seiri-ai/seiri/internal/model"
)

func routedInput(ct model.CaseType, urgency model.Urgency, level model.RiskLevel, factors ...string) *Input {
	in := NewInput(&model.Case{ID: "case-1", Title: "t", Description: "d"})
	in.Classification = &model.ClassificationResult{CaseType: ct, Urgency: urgency, Confidence: 0.8}
	in.Risk = &model.RiskScoreResult{RiskLevel: level, RiskScore: 0.5, RiskFactors: factors, Confidence: 0.7}
	return in
}

func TestRouterRulePriorities(t *testing.T) {
	tests := []struct {
		name     string
		in       *Input
		team     string
		sla      float64
		escalate bool
		policy   string
	}{
		{
			name:     "high risk escalates first",
			in:       routedInput(model.CaseFraudReview, model.UrgencyCritical, model.RiskHigh),
			team:     "Escalation",
			sla:      4,
			escalate: true,
			policy:   "high_risk_escalation",
		},
		{
			name:   "extreme risk escalates",
			in:     routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskExtreme),
			team:   "Escalation",
			sla:    4,
			escalate: true,
			policy: "high_risk_escalation",
		},
		{
			name:   "fraud case type",
			in:     routedInput(model.CaseFraudReview, model.UrgencyMedium, model.RiskMedium),
			team:   "Fraud-Review",
			sla:    24,
			policy: "fraud_review",
		},
		{
			name:   "fraud indicators without fraud type",
			in:     routedInput(model.CaseInsuranceClaim, model.UrgencyMedium, model.RiskMedium, "fraud_indicators"),
			team:   "Fraud-Review",
			sla:    24,
			policy: "fraud_review",
		},
		{
			name:   "legal intake",
			in:     routedInput(model.CaseLegalIntake, model.UrgencyMedium, model.RiskMedium),
			team:   "Specialist",
			sla:    48,
			policy: "legal_cases",
		},
		{
			name:   "critical healthcare",
			in:     routedInput(model.CaseHealthcarePriorAuth, model.UrgencyCritical, model.RiskLow),
			team:   "Specialist",
			sla:    48,
			policy: "critical_healthcare",
		},
		{
			name:   "high urgency",
			in:     routedInput(model.CaseBankDispute, model.UrgencyHigh, model.RiskMedium),
			team:   "Tier-1",
			sla:    2,
			policy: "urgent_cases",
		},
		{
			name:   "standard default",
			in:     routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow),
			team:   "Tier-2",
			sla:    72,
			policy: "standard_processing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(nil, model.NewTeamRegistry(nil), discard())
			res := r.Run(context.Background(), tc.in)
			require.Empty(t, res.Error)
			routing := tc.in.Routing
			assert.Equal(t, tc.team, routing.RecommendedTeam)
			assert.Equal(t, tc.sla, routing.SLATargetHours)
			assert.Equal(t, tc.escalate, routing.EscalationFlag)
			assert.Equal(t, tc.policy, routing.PolicyApplied)
		})
	}
}

func TestRouterAlternativeRoutes(t *testing.T) {
	r := NewRouter(nil, model.NewTeamRegistry(nil), discard())
	in := routedInput(model.CaseInsuranceClaim, model.UrgencyHigh, model.RiskHigh)

	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"Tier-1", "Escalation"}, in.Routing.AlternativeRoutes)
}

func TestRouterCapacityFallback(t *testing.T) {
	teams := model.NewTeamRegistry(nil)
	require.NoError(t, teams.SetLoad("Tier-1", 95))
	r := NewRouter(nil, teams, discard())

	in := routedInput(model.CaseBankDispute, model.UrgencyHigh, model.RiskMedium)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)

	assert.NotEqual(t, "Tier-1", in.Routing.RecommendedTeam)
	assert.Contains(t, model.TeamAlternatives["Tier-1"], in.Routing.RecommendedTeam)
	assert.LessOrEqual(t, res.Confidence, 0.855)
	assert.Contains(t, in.Routing.Reasoning, "at capacity")
}

func TestRouterCapacityFallbackSkipsLoadedAlternatives(t *testing.T) {
	teams := model.NewTeamRegistry(nil)
	require.NoError(t, teams.SetLoad("Tier-1", 95))
	require.NoError(t, teams.SetLoad("Tier-2", 190)) // above 80% of 200
	r := NewRouter(nil, teams, discard())

	in := routedInput(model.CaseBankDispute, model.UrgencyHigh, model.RiskMedium)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)
	assert.Equal(t, "Specialist", in.Routing.RecommendedTeam)
}

type fakeEvaluator struct {
	result map[string]any
	err    error
	called bool
	input  map[string]any
}

func (f *fakeEvaluator) Enabled() bool { return true }

func (f *fakeEvaluator) Evaluate(_ context.Context, _ string, input, _ map[string]any) (map[string]any, error) {
	f.called = true
	f.input = input
	return f.result, f.err
}

func TestRouterPolicyDecisionWins(t *testing.T) {
	eval := &fakeEvaluator{result: map[string]any{
		"team":      "Fraud-Review",
		"sla_hours": 12.0,
		"policy":    "velocity_check",
		"reasoning": "claim velocity exceeded",
	}}
	r := NewRouter(eval, model.NewTeamRegistry(nil), discard())

	in := routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)
	require.True(t, eval.called)

	assert.Equal(t, "Fraud-Review", in.Routing.RecommendedTeam)
	assert.Equal(t, 12.0, in.Routing.SLATargetHours)
	assert.Equal(t, "velocity_check", in.Routing.PolicyApplied)
	assert.Equal(t, 0.95, res.Confidence)

	kase, ok := eval.input["case"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, model.CaseInsuranceClaim, kase["case_type"])
}

func TestRouterSendsLoadedPoliciesToEvaluator(t *testing.T) {
	eval := &fakeEvaluator{}
	r := NewRouter(eval, model.NewTeamRegistry(nil), discard())
	r.SetPolicySource(func() []string { return []string{"routing", "sla_overrides"} })

	in := routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)
	require.True(t, eval.called)

	assert.Equal(t, []string{"routing", "sla_overrides"}, eval.input["policies"])
}

func TestRouterSendsEmptyPolicyListWithoutSource(t *testing.T) {
	eval := &fakeEvaluator{}
	r := NewRouter(eval, model.NewTeamRegistry(nil), discard())

	in := routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)

	assert.Equal(t, []string{}, eval.input["policies"])
}

func TestRouterPolicyUnknownTeamIgnored(t *testing.T) {
	eval := &fakeEvaluator{result: map[string]any{"team": "Nonexistent"}}
	r := NewRouter(eval, model.NewTeamRegistry(nil), discard())

	in := routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow)
	res := r.Run(context.Background(), in)
	require.Empty(t, res.Error)
	assert.Equal(t, "Tier-2", in.Routing.RecommendedTeam)
	assert.Equal(t, "standard_processing", in.Routing.PolicyApplied)
}

func TestRouterEvaluatorErrorFallsBackToRules(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("evaluator unreachable")}
	r := NewRouter(eval, model.NewTeamRegistry(nil), discard())

	in := routedInput(model.CaseInsuranceClaim, model.UrgencyLow, model.RiskLow)
	res := r.Run(context.Background(), in)

	require.Empty(t, res.Error)
	assert.Equal(t, "Tier-2", in.Routing.RecommendedTeam)
	assert.NotEqual(t, "opa_policy", in.Routing.PolicyApplied)
}

func TestRouterSoftFailsWithoutUpstreamResults(t *testing.T) {
	r := NewRouter(nil, model.NewTeamRegistry(nil), discard())
	in := NewInput(&model.Case{Title: "t", Description: "d"})

	res := r.Run(context.Background(), in)
	assert.True(t, res.SoftFailure)
	assert.Equal(t, "Tier-2", in.Routing.RecommendedTeam)
	assert.Equal(t, 72.0, in.Routing.SLATargetHours)
	assert.Equal(t, 0.5, res.Confidence)
}
