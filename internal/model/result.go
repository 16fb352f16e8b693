package model

import "time"

// Agent names, used as AgentResult.AgentName and as confidence weights keys.
const (
	AgentClassifier      = "classifier"
	AgentRiskScorer      = "risk_scorer"
	AgentRouter          = "router"
	AgentDecisionSupport = "decision_support"
	AgentCompliance      = "compliance"
)

// AgentResult is the uniform envelope every agent returns. Result holds the
// agent-specific typed payload (ClassificationResult etc.). SoftFailure is
// set when the agent collapsed to its documented safe default; the
// orchestrator treats such steps as successful but lowered-confidence.
type AgentResult struct {
	AgentName        string  `json:"agent_name"`
	Confidence       float64 `json:"confidence"`
	Result           any     `json:"result"`
	Reasoning        string  `json:"reasoning"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	Error            string  `json:"error,omitempty"`
	SoftFailure      bool    `json:"soft_failure,omitempty"`
}

// ClassificationResult is the classifier agent's payload.
type ClassificationResult struct {
	CaseType      CaseType `json:"case_type"`
	Urgency       Urgency  `json:"urgency"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	MissingFields []string `json:"missing_fields"`
}

// FeatureContribution is one entry of the risk scorer's top-feature list.
type FeatureContribution struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"` // absolute contribution magnitude
	Direction  string  `json:"direction"`  // "increases" or "decreases"
}

// RiskScoreResult is the risk scorer agent's payload.
type RiskScoreResult struct {
	RiskScore   float64               `json:"risk_score"`
	RiskLevel   RiskLevel             `json:"risk_level"`
	Confidence  float64               `json:"confidence"`
	Rationale   string                `json:"rationale"`
	TopFeatures []FeatureContribution `json:"top_features"`
	RiskFactors []string              `json:"risk_factors"`
}

// RoutingResult is the router agent's payload.
type RoutingResult struct {
	RecommendedTeam   string   `json:"recommended_team"`
	SLATargetHours    float64  `json:"sla_target_hours"`
	EscalationFlag    bool     `json:"escalation_flag"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	PolicyApplied     string   `json:"policy_applied"`
	AlternativeRoutes []string `json:"alternative_routes"`
}

// KnowledgeSource is one retrieved knowledge-base hit.
type KnowledgeSource struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// DecisionSupportResult is the decision support agent's payload.
type DecisionSupportResult struct {
	SuggestedActions []string          `json:"suggested_actions"`
	TemplateResponse string            `json:"template_response"`
	Checklist        []string          `json:"checklist"`
	KnowledgeSources []KnowledgeSource `json:"knowledge_sources"`
	Confidence       float64           `json:"confidence"`
	Reasoning        string            `json:"reasoning"`
}

// AgentSummary is the compact per-agent record embedded in audit entries.
type AgentSummary struct {
	Agent            string  `json:"agent"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

// ComplianceResult is the compliance agent's payload. RedactedCase is a deep
// copy of the input with PII substrings replaced by fixed tokens.
type ComplianceResult struct {
	PIIDetected      bool     `json:"pii_detected"`
	PIITypes         []string `json:"pii_types"`
	RedactedCase     Case     `json:"redacted_case"`
	AuditID          string   `json:"audit_id"`
	ComplianceIssues []string `json:"compliance_issues"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
}

// FinalDecision aggregates the five agent outputs for one triage run.
type FinalDecision struct {
	CaseID            string                 `json:"case_id"`
	Classification    *ClassificationResult  `json:"classification"`
	RiskScore         *RiskScoreResult       `json:"risk_score"`
	Routing           *RoutingResult         `json:"routing"`
	DecisionSupport   *DecisionSupportResult `json:"decision_support"`
	Compliance        *ComplianceResult      `json:"compliance"`
	AgentResults      []AgentResult          `json:"agent_results"`
	OverallConfidence float64                `json:"overall_confidence"`
	CompletedAt       time.Time              `json:"completed_at"`
}

// Confidence weights for the overall score. Agents absent from a decision
// contribute zero weight.
var ConfidenceWeights = map[string]float64{
	AgentClassifier:      0.25,
	AgentRiskScorer:      0.25,
	AgentRouter:          0.20,
	AgentDecisionSupport: 0.15,
	AgentCompliance:      0.15,
}

// OverallConfidence computes the weighted mean confidence over the present
// agent results.
func OverallConfidence(results []AgentResult) float64 {
	var sum, weight float64
	for _, r := range results {
		w, ok := ConfidenceWeights[r.AgentName]
		if !ok {
			continue
		}
		sum += w * r.Confidence
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}
