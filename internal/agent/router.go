package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/seiri-ai/seiri/internal/model"
)

// Capacity thresholds. A team at or above loadRefusal of its capacity stops
// taking assignments; an alternative must sit below loadAcceptance.
const (
	loadRefusal    = 0.9
	loadAcceptance = 0.8
)

// Evaluator is the slice of the policy client the router uses.
type Evaluator interface {
	Enabled() bool
	Evaluate(ctx context.Context, path string, input, data map[string]any) (map[string]any, error)
}

// routingPolicyPath is the evaluator document consulted before built-in rules.
const routingPolicyPath = "routing/decision"

// Router assigns the case to a team. An external policy decision wins when
// it names a known team; otherwise a closed rule list applies. Either way
// the choice is then validated against team capacity.
type Router struct {
	evaluator Evaluator
	teams     *model.TeamRegistry
	policies  func() []string
	logger    *slog.Logger
}

// NewRouter creates the routing step. evaluator may be nil.
func NewRouter(evaluator Evaluator, teams *model.TeamRegistry, logger *slog.Logger) *Router {
	return &Router{evaluator: evaluator, teams: teams, logger: logger}
}

// SetPolicySource installs the provider of loaded policy names included in
// evaluator input documents, typically the policy watcher's snapshot.
func (r *Router) SetPolicySource(fn func() []string) {
	r.policies = fn
}

func (r *Router) Name() string { return model.AgentRouter }

// Run routes the case. Evaluator failures are soft: the built-in rules
// always produce a decision.
func (r *Router) Run(ctx context.Context, in *Input) model.AgentResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hardFailure(r.Name(), err, start)
	}
	if in.Classification == nil || in.Risk == nil {
		return r.softFail(in, "routing failed: missing upstream results", start)
	}

	res := r.routeWithRules(in)
	if r.evaluator != nil && r.evaluator.Enabled() {
		if policyRes := r.routeWithPolicy(ctx, in, res); policyRes != nil {
			res = *policyRes
		}
	}
	res = r.checkCapacity(res)
	res.AlternativeRoutes = r.teams.Eligible(in.Classification.CaseType, in.Risk.RiskLevel)

	in.Routing = &res
	return model.AgentResult{
		AgentName:        r.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		ProcessingTimeMS: elapsedMS(start),
	}
}

func (r *Router) softFail(in *Input, reason string, start time.Time) model.AgentResult {
	res := model.RoutingResult{
		RecommendedTeam:   "Tier-2",
		SLATargetHours:    72,
		Confidence:        0.5,
		Reasoning:         reason,
		PolicyApplied:     "default",
		AlternativeRoutes: []string{},
	}
	in.Routing = &res
	return model.AgentResult{
		AgentName:        r.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		SoftFailure:      true,
		ProcessingTimeMS: elapsedMS(start),
	}
}

// routeWithPolicy asks the external evaluator for a decision. Only a result
// naming a catalogued team is accepted; anything else falls back to rules.
func (r *Router) routeWithPolicy(ctx context.Context, in *Input, rules model.RoutingResult) *model.RoutingResult {
	result, err := r.evaluator.Evaluate(ctx, routingPolicyPath, r.policyInput(in), nil)
	if err != nil {
		r.logger.Warn("policy evaluation failed, using built-in rules", "case_id", in.Case.ID, "error", err)
		return nil
	}

	team, _ := result["team"].(string)
	if _, ok := r.teams.Get(team); !ok {
		return nil
	}

	sla := rules.SLATargetHours
	if v, ok := result["sla_hours"].(float64); ok {
		sla = v
	}
	escalate := rules.EscalationFlag
	if v, ok := result["escalation"].(bool); ok {
		escalate = v
	}
	policy := "opa_policy"
	if v, ok := result["policy"].(string); ok && v != "" {
		policy = v
	}
	reasoning := "policy-based routing"
	if v, ok := result["reasoning"].(string); ok && v != "" {
		reasoning = v
	}
	return &model.RoutingResult{
		RecommendedTeam: team,
		SLATargetHours:  sla,
		EscalationFlag:  escalate,
		Confidence:      0.95,
		Reasoning:       "policy decision: " + reasoning,
		PolicyApplied:   policy,
	}
}

// policyInput is the document sent to the evaluator: the case, the team
// catalogue with live load, and the names of the loaded policies.
func (r *Router) policyInput(in *Input) map[string]any {
	policies := []string{}
	if r.policies != nil {
		policies = r.policies()
	}
	teams := make(map[string]any)
	for _, t := range r.teams.List() {
		teams[t.Name] = map[string]any{
			"case_types":       t.CaseTypes,
			"max_risk_level":   t.MaxRiskLevel,
			"capacity":         t.Capacity,
			"current_load":     t.CurrentLoad,
			"sla_target_hours": t.SLATargetHours,
		}
	}
	return map[string]any{
		"case": map[string]any{
			"id":             in.Case.ID,
			"title":          in.Case.Title,
			"description":    in.Case.Description,
			"case_type":      in.Classification.CaseType,
			"urgency":        in.Classification.Urgency,
			"risk_level":     in.Risk.RiskLevel,
			"risk_score":     in.Risk.RiskScore,
			"amount":         in.Case.Amount,
			"customer_id":    in.Case.CustomerID,
			"metadata":       in.Case.Metadata,
			"missing_fields": in.Classification.MissingFields,
		},
		"teams":    teams,
		"policies": policies,
	}
}

// routeWithRules applies the built-in rule list in priority order.
func (r *Router) routeWithRules(in *Input) model.RoutingResult {
	ct := in.Classification.CaseType
	urgency := in.Classification.Urgency
	risk := in.Risk

	switch {
	case model.RiskAtLeast(risk.RiskLevel, model.RiskHigh):
		return ruleDecision("Escalation", 4, true, "high_risk_escalation",
			"high risk case escalated")
	case ct == model.CaseFraudReview || slices.Contains(risk.RiskFactors, "fraud_indicators"):
		return ruleDecision("Fraud-Review", 24, false, "fraud_review",
			"fraud signals routed to fraud review")
	case ct == model.CaseLegalIntake:
		return ruleDecision("Specialist", 48, false, "legal_cases",
			"legal matter routed to specialists")
	case ct == model.CaseHealthcarePriorAuth && urgency == model.UrgencyCritical:
		return ruleDecision("Specialist", 48, false, "critical_healthcare",
			"critical prior authorization routed to clinical specialists")
	case model.UrgencyAtLeast(urgency, model.UrgencyHigh):
		return ruleDecision("Tier-1", 2, false, "urgent_cases",
			"high urgency case routed to Tier-1")
	default:
		res := ruleDecision("Tier-2", 72, false, "standard_processing",
			"standard case routed to Tier-2")
		res.Confidence = 0.7
		return res
	}
}

func ruleDecision(team string, sla float64, escalate bool, policy, reasoning string) model.RoutingResult {
	return model.RoutingResult{
		RecommendedTeam: team,
		SLATargetHours:  sla,
		EscalationFlag:  escalate,
		Confidence:      0.9,
		Reasoning:       reasoning,
		PolicyApplied:   policy,
	}
}

// checkCapacity reroutes away from a team at or above loadRefusal of its
// capacity, trying the team's ordered alternatives before the Tier-2
// catch-all. A capacity reroute lowers confidence.
func (r *Router) checkCapacity(res model.RoutingResult) model.RoutingResult {
	team, ok := r.teams.Get(res.RecommendedTeam)
	if !ok {
		res.Reasoning = fmt.Sprintf("team %s not in catalogue, routed to Tier-2", res.RecommendedTeam)
		res.RecommendedTeam = "Tier-2"
		res.Confidence *= 0.8
		return res
	}
	if float64(team.CurrentLoad) < loadRefusal*float64(team.Capacity) {
		return res
	}

	replacement := "Tier-2"
	for _, alt := range model.TeamAlternatives[team.Name] {
		info, ok := r.teams.Get(alt)
		if ok && float64(info.CurrentLoad) < loadAcceptance*float64(info.Capacity) {
			replacement = alt
			break
		}
	}
	res.Reasoning = fmt.Sprintf("team %s at capacity, routed to %s", team.Name, replacement)
	res.RecommendedTeam = replacement
	res.Confidence *= 0.9
	return res
}
