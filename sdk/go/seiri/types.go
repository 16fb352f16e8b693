package seiri

import "time"

// Case is the input to a triage run.
type Case struct {
	ID          string         `json:"id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Amount      *float64       `json:"amount,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Submitter hints. The server weighs a valid hint heavily but still
	// runs its own analysis, so a bogus hint cannot skip triage.
	TypeHint    string `json:"case_type_hint,omitempty"`
	UrgencyHint string `json:"urgency_hint,omitempty"`
}

// Classification is the classifier agent's payload.
type Classification struct {
	CaseType      string   `json:"case_type"`
	Urgency       string   `json:"urgency"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	MissingFields []string `json:"missing_fields"`
}

// FeatureContribution is one entry of the risk scorer's top-feature list.
type FeatureContribution struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Direction  string  `json:"direction"`
}

// RiskScore is the risk scorer agent's payload.
type RiskScore struct {
	RiskScore   float64               `json:"risk_score"`
	RiskLevel   string                `json:"risk_level"`
	Confidence  float64               `json:"confidence"`
	Rationale   string                `json:"rationale"`
	TopFeatures []FeatureContribution `json:"top_features"`
	RiskFactors []string              `json:"risk_factors"`
}

// Routing is the router agent's payload.
type Routing struct {
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

// DecisionSupport is the decision support agent's payload.
type DecisionSupport struct {
	SuggestedActions []string          `json:"suggested_actions"`
	TemplateResponse string            `json:"template_response"`
	Checklist        []string          `json:"checklist"`
	KnowledgeSources []KnowledgeSource `json:"knowledge_sources"`
	Confidence       float64           `json:"confidence"`
	Reasoning        string            `json:"reasoning"`
}

// Compliance is the compliance agent's payload.
type Compliance struct {
	PIIDetected      bool     `json:"pii_detected"`
	PIITypes         []string `json:"pii_types"`
	RedactedCase     Case     `json:"redacted_case"`
	AuditID          string   `json:"audit_id"`
	ComplianceIssues []string `json:"compliance_issues"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
}

// AgentResult is the uniform per-agent envelope in a decision.
type AgentResult struct {
	AgentName        string  `json:"agent_name"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	Error            string  `json:"error,omitempty"`
	SoftFailure      bool    `json:"soft_failure,omitempty"`
}

// Decision aggregates the five agent outputs for one triage run.
type Decision struct {
	CaseID            string           `json:"case_id"`
	Classification    *Classification  `json:"classification"`
	RiskScore         *RiskScore       `json:"risk_score"`
	Routing           *Routing         `json:"routing"`
	DecisionSupport   *DecisionSupport `json:"decision_support"`
	Compliance        *Compliance      `json:"compliance"`
	AgentResults      []AgentResult    `json:"agent_results"`
	OverallConfidence float64          `json:"overall_confidence"`
	CompletedAt       time.Time        `json:"completed_at"`
}

// TriageResponse is the success payload for POST /v1/triage.
type TriageResponse struct {
	Decision     Decision      `json:"decision"`
	AgentResults []AgentResult `json:"agent_results"`
}

// Team is one routing destination.
type Team struct {
	Name           string   `json:"name"`
	CaseTypes      []string `json:"case_types"`
	MaxRiskLevel   string   `json:"max_risk_level"`
	Capacity       int      `json:"capacity"`
	CurrentLoad    int      `json:"current_load"`
	SLATargetHours float64  `json:"sla_target_hours"`
}

// Health is the response for GET /health.
type Health struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	Evaluator      string   `json:"evaluator"`
	PoliciesLoaded []string `json:"policies_loaded,omitempty"`
	BreakerState   string   `json:"breaker_state"`
	Uptime         int64    `json:"uptime_seconds"`
}

// AuditVerification is the response for GET /v1/audit/verify.
type AuditVerification struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// BreakerStatus is the response for POST /v1/admin/breaker/reset.
type BreakerStatus struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}
