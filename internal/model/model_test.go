package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseValidate(t *testing.T) {
	valid := Case{ID: "c-1", Title: "Claim", Description: "Windshield damage"}
	require.NoError(t, valid.Validate())

	empty := Case{ID: "c-2", Title: "   ", Description: "x"}
	require.Error(t, empty.Validate())

	negative := -5.0
	badAmount := Case{ID: "c-3", Title: "a", Description: "b", Amount: &negative}
	require.Error(t, badAmount.Validate())
}

func TestCombinedTextIsLowercasedAndDeterministic(t *testing.T) {
	c := Case{
		Title:       "URGENT Claim",
		Description: "Water Damage",
		Metadata:    map[string]any{"b": "Second", "a": 42},
	}
	got := c.CombinedText()
	assert.Equal(t, "urgent claim water damage 42 second", got)
	assert.Equal(t, got, c.CombinedText())
}

func TestCloneDoesNotAliasMetadata(t *testing.T) {
	amount := 100.0
	c := Case{
		Title:       "t",
		Description: "d",
		Amount:      &amount,
		Metadata: map[string]any{
			"nested": map[string]any{"phone": "555-123-4567"},
			"list":   []any{"a", "b"},
		},
	}
	clone := c.Clone()
	clone.Metadata["nested"].(map[string]any)["phone"] = "redacted"
	*clone.Amount = 0

	assert.Equal(t, "555-123-4567", c.Metadata["nested"].(map[string]any)["phone"])
	assert.Equal(t, 100.0, *c.Amount)
}

func TestTeamRegistryAcquireRelease(t *testing.T) {
	r := NewTeamRegistry(nil)

	before, ok := r.Get("Tier-1")
	require.True(t, ok)

	require.NoError(t, r.Acquire("Tier-1"))
	during, _ := r.Get("Tier-1")
	assert.Equal(t, before.CurrentLoad+1, during.CurrentLoad)

	r.Release("Tier-1")
	after, _ := r.Get("Tier-1")
	assert.Equal(t, before.CurrentLoad, after.CurrentLoad)
}

func TestTeamRegistryAcquireRefusesAtCapacity(t *testing.T) {
	r := NewTeamRegistry([]Team{{
		Name: "Tiny", CaseTypes: []CaseType{CaseInsuranceClaim},
		MaxRiskLevel: RiskHigh, Capacity: 1, SLATargetHours: 1,
	}})
	require.NoError(t, r.Acquire("Tiny"))
	require.Error(t, r.Acquire("Tiny"))
}

func TestEligibleFiltersByTypeAndRisk(t *testing.T) {
	r := NewTeamRegistry(nil)

	// High-risk insurance claim: Tier-2 caps at medium, so it is excluded.
	got := r.Eligible(CaseInsuranceClaim, RiskHigh)
	assert.Equal(t, []string{"Tier-1", "Escalation"}, got)

	// Fraud review is only handled by Specialist and Fraud-Review.
	got = r.Eligible(CaseFraudReview, RiskExtreme)
	assert.Equal(t, []string{"Specialist", "Fraud-Review"}, got)
}

func TestOverallConfidenceWeights(t *testing.T) {
	results := []AgentResult{
		{AgentName: AgentClassifier, Confidence: 1.0},
		{AgentName: AgentRiskScorer, Confidence: 0.5},
		{AgentName: AgentRouter, Confidence: 0.8},
		{AgentName: AgentDecisionSupport, Confidence: 0.6},
		{AgentName: AgentCompliance, Confidence: 0.7},
	}
	want := 0.25*1.0 + 0.25*0.5 + 0.20*0.8 + 0.15*0.6 + 0.15*0.7
	assert.InDelta(t, want, OverallConfidence(results), 1e-9)

	// Missing agents contribute zero weight; the mean renormalizes.
	partial := []AgentResult{
		{AgentName: AgentClassifier, Confidence: 0.9},
		{AgentName: AgentRiskScorer, Confidence: 0.7},
	}
	assert.InDelta(t, (0.25*0.9+0.25*0.7)/0.5, OverallConfidence(partial), 1e-9)

	assert.Zero(t, OverallConfidence(nil))
}
