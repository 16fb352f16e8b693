package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/seiri-ai/seiri/internal/kb"
	"github.com/seiri-ai/seiri/internal/model"
)

// kbResults is how many hits decision support pulls per collection.
const kbResults = 3

// Retriever is the slice of the knowledge base used by decision support.
// *kb.Store satisfies it.
type Retriever interface {
	DecisionSupport(ctx context.Context, contextText, caseType string, n int) (map[string][]kb.Hit, error)
}

// DecisionSupport produces suggested actions, a response template, a work
// checklist, and supporting knowledge retrieved from the vector store.
type DecisionSupport struct {
	kb     Retriever
	logger *slog.Logger
}

// NewDecisionSupport creates the decision support step.
func NewDecisionSupport(retriever Retriever, logger *slog.Logger) *DecisionSupport {
	return &DecisionSupport{kb: retriever, logger: logger}
}

func (d *DecisionSupport) Name() string { return model.AgentDecisionSupport }

// Run assembles the recommendation package. A knowledge base failure
// collapses to the manual-review default.
func (d *DecisionSupport) Run(ctx context.Context, in *Input) model.AgentResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hardFailure(d.Name(), err, start)
	}
	if in.Classification == nil || in.Risk == nil || in.Routing == nil {
		return d.softFail(in, "decision support failed: missing upstream results", start)
	}

	cls, risk, routing := in.Classification, in.Risk, in.Routing

	var sources []model.KnowledgeSource
	if d.kb != nil {
		contextText := strings.TrimSpace(in.Case.Title + " " + in.Case.Description)
		hits, err := d.kb.DecisionSupport(ctx, contextText, string(cls.CaseType), kbResults)
		if err != nil {
			return d.softFail(in, fmt.Sprintf("decision support failed: %v", err), start)
		}
		sources = flattenHits(hits)
	}

	res := model.DecisionSupportResult{
		SuggestedActions: suggestedActions(cls.CaseType, risk.RiskLevel, cls.Urgency, routing.RecommendedTeam),
		TemplateResponse: templateResponse(in.Case, cls.CaseType, risk.RiskLevel),
		Checklist:        buildChecklist(cls, risk.RiskLevel),
		KnowledgeSources: sources,
		Confidence:       clip01(0.4*cls.Confidence + 0.4*risk.Confidence + 0.2*routing.Confidence),
		Reasoning:        supportReasoning(cls.CaseType, risk.RiskLevel, routing.RecommendedTeam, len(sources)),
	}

	in.Support = &res
	return model.AgentResult{
		AgentName:        d.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		ProcessingTimeMS: elapsedMS(start),
	}
}

func (d *DecisionSupport) softFail(in *Input, reason string, start time.Time) model.AgentResult {
	res := model.DecisionSupportResult{
		SuggestedActions: []string{"Review case manually"},
		TemplateResponse: "Please review this case and take appropriate action.",
		Checklist:        []string{"Verify case details", "Check documentation"},
		KnowledgeSources: []model.KnowledgeSource{},
		Confidence:       0.5,
		Reasoning:        reason,
	}
	in.Support = &res
	return model.AgentResult{
		AgentName:        d.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		SoftFailure:      true,
		ProcessingTimeMS: elapsedMS(start),
	}
}

// riskBand collapses risk levels onto the three action-table bands.
func riskBand(level model.RiskLevel) string {
	switch level {
	case model.RiskHigh, model.RiskExtreme:
		return "high"
	case model.RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// actionTable holds the base suggested actions per case type and risk band.
// fraud_review has no base entries; its actions come from the team and risk
// additions.
var actionTable = map[model.CaseType]map[string][]string{
	model.CaseInsuranceClaim: {
		"high": {
			"Request additional documentation",
			"Schedule fraud investigation",
			"Notify compliance team",
			"Set up monitoring alerts",
		},
		"medium": {
			"Review claim details",
			"Request supporting documents",
			"Verify policy coverage",
			"Calculate settlement amount",
		},
		"low": {
			"Process standard approval",
			"Send confirmation letter",
			"Update customer records",
			"Close case",
		},
	},
	model.CaseHealthcarePriorAuth: {
		"high": {
			"Request medical records",
			"Consult with medical director",
			"Schedule peer review",
			"Notify provider of decision",
		},
		"medium": {
			"Review treatment plan",
			"Verify medical necessity",
			"Check coverage criteria",
			"Make determination",
		},
		"low": {
			"Approve treatment",
			"Send approval letter",
			"Update authorization system",
			"Notify provider",
		},
	},
	model.CaseBankDispute: {
		"high": {
			"Freeze account activity",
			"Initiate fraud investigation",
			"Contact law enforcement",
			"Notify compliance officer",
		},
		"medium": {
			"Review transaction history",
			"Contact customer for details",
			"Investigate merchant",
			"Make provisional credit decision",
		},
		"low": {
			"Process chargeback",
			"Send dispute letter",
			"Update customer account",
			"Monitor for resolution",
		},
	},
	model.CaseLegalIntake: {
		"high": {
			"Schedule urgent consultation",
			"Prepare legal documents",
			"Notify senior attorney",
			"Set up case management",
		},
		"medium": {
			"Review case details",
			"Schedule consultation",
			"Prepare initial assessment",
			"Assign case number",
		},
		"low": {
			"Schedule standard consultation",
			"Send welcome packet",
			"Create client file",
			"Assign paralegal",
		},
	},
}

// teamActions are appended for specialized destination teams.
var teamActions = map[string][]string{
	"Fraud-Review": {
		"Initiate fraud investigation",
		"Freeze related accounts",
		"Contact law enforcement if needed",
	},
	"Specialist": {
		"Schedule specialist review",
		"Prepare detailed analysis",
		"Coordinate with external experts",
	},
	"Escalation": {
		"Immediate management review",
		"Prepare escalation report",
		"Coordinate cross-functional response",
	},
}

// suggestedActions builds the deduplicated action list: base table entries
// plus urgency, team, and risk additions, first occurrence wins.
func suggestedActions(ct model.CaseType, level model.RiskLevel, urgency model.Urgency, team string) []string {
	var actions []string
	actions = append(actions, actionTable[ct][riskBand(level)]...)

	if model.UrgencyAtLeast(urgency, model.UrgencyHigh) {
		actions = append(actions,
			"Prioritize for immediate review",
			"Set up escalation monitoring",
			"Notify management team",
		)
	}
	actions = append(actions, teamActions[team]...)
	if model.RiskAtLeast(level, model.RiskHigh) {
		actions = append(actions,
			"Document decision rationale",
			"Update compliance logs",
			"Schedule follow-up review",
		)
	}
	return dedupe(actions)
}

// Response templates. Bodies carry placeholders filled per case.
var responseTemplates = map[string]string{
	"insurance_approval": "Dear {customer_name},\n\nYour {case_type} case {case_id} has been reviewed and approved for processing. The claimed amount of {amount} will be settled according to your policy terms. You will receive payment details within five business days.\n\nBest regards,\nClaims Operations",
	"insurance_denial":   "Dear {customer_name},\n\nYour {case_type} case {case_id} has been flagged for {risk_level} risk review. Settlement of the claimed amount of {amount} is on hold pending additional verification. An adjuster will contact you with the documents required.\n\nBest regards,\nClaims Operations",
	"healthcare_approval": "Dear {customer_name},\n\nThe prior authorization request in case {case_id} has been approved. Your provider has been notified and may proceed with the authorized treatment.\n\nBest regards,\nAuthorization Services",
	"healthcare_denial":   "Dear {customer_name},\n\nThe prior authorization request in case {case_id} requires {risk_level} risk clinical review before a determination can be made. Your provider has been asked to supply supporting medical records.\n\nBest regards,\nAuthorization Services",
	"bank_credit":         "Dear {customer_name},\n\nWe have opened dispute case {case_id} for the contested amount of {amount}. A provisional credit will be applied to your account while the investigation proceeds.\n\nBest regards,\nDispute Resolution",
	"bank_debit":          "Dear {customer_name},\n\nDispute case {case_id} for the contested amount of {amount} is under {risk_level} risk investigation. No provisional credit will be applied until the review completes. We will contact you if further information is needed.\n\nBest regards,\nDispute Resolution",
	"legal_consultation":  "Dear {customer_name},\n\nYour {case_type} matter has been received as case {case_id} and assigned for consultation. A member of our team will contact you to schedule an initial review.\n\nBest regards,\nIntake Team",
}

// templateSelection maps (case type, risk band) to a template name. Types
// without an entry fall back to the legal consultation letter.
var templateSelection = map[model.CaseType]map[string]string{
	model.CaseInsuranceClaim: {
		"low": "insurance_approval", "medium": "insurance_approval",
		"high": "insurance_denial",
	},
	model.CaseHealthcarePriorAuth: {
		"low": "healthcare_approval", "medium": "healthcare_approval",
		"high": "healthcare_denial",
	},
	model.CaseBankDispute: {
		"low": "bank_credit", "medium": "bank_credit",
		"high": "bank_debit",
	},
	model.CaseLegalIntake: {
		"low": "legal_consultation", "medium": "legal_consultation",
		"high": "legal_consultation",
	},
}

// templateResponse selects and fills the response template for the case.
func templateResponse(c *model.Case, ct model.CaseType, level model.RiskLevel) string {
	name := "legal_consultation"
	if bands, ok := templateSelection[ct]; ok {
		if selected, ok := bands[riskBand(level)]; ok {
			name = selected
		}
	}
	body, ok := responseTemplates[name]
	if !ok {
		body = "Dear {customer_name},\n\nThank you for submitting your {case_type} case. We have reviewed your case and determined it requires {risk_level} level processing. Our team will process it according to standard procedures and keep you informed of its status.\n\nBest regards,\nTriage Operations"
	}
	return fillPlaceholders(body, c, ct, level)
}

func fillPlaceholders(body string, c *model.Case, ct model.CaseType, level model.RiskLevel) string {
	customer := c.CustomerID
	if customer == "" {
		customer = "Customer"
	}
	caseID := c.ID
	if caseID == "" {
		caseID = "N/A"
	}
	amount := "N/A"
	if c.Amount != nil {
		amount = strconv.FormatFloat(*c.Amount, 'f', -1, 64)
	}
	replacer := strings.NewReplacer(
		"{customer_name}", customer,
		"{case_id}", caseID,
		"{amount}", amount,
		"{case_type}", titleCase(strings.ReplaceAll(string(ct), "_", " ")),
		"{risk_level}", titleCase(string(level)),
	)
	return replacer.Replace(body)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// checklistByType holds the per-type verification items.
var checklistByType = map[model.CaseType][]string{
	model.CaseInsuranceClaim: {
		"Verify policy coverage",
		"Check claim amount against limits",
		"Review medical documentation",
		"Calculate settlement amount",
	},
	model.CaseHealthcarePriorAuth: {
		"Verify medical necessity",
		"Check treatment plan",
		"Review provider credentials",
		"Validate diagnosis codes",
	},
	model.CaseBankDispute: {
		"Review transaction details",
		"Verify customer identity",
		"Check account activity",
		"Investigate merchant information",
	},
	model.CaseLegalIntake: {
		"Schedule initial consultation",
		"Prepare case summary",
		"Check conflicts of interest",
		"Assign case number",
	},
}

// buildChecklist assembles the work checklist: base items, missing-field
// requests, risk additions, and type-specific items.
func buildChecklist(cls *model.ClassificationResult, level model.RiskLevel) []string {
	checklist := []string{
		"Verify case information is complete",
		"Check all required documents are attached",
		"Validate customer information",
		"Review case classification accuracy",
	}
	for _, field := range cls.MissingFields {
		checklist = append(checklist, "Request missing "+field)
	}
	if model.RiskAtLeast(level, model.RiskHigh) {
		checklist = append(checklist,
			"Perform additional verification",
			"Document risk assessment rationale",
			"Set up monitoring and alerts",
			"Schedule follow-up review",
		)
	}
	checklist = append(checklist, checklistByType[cls.CaseType]...)
	return checklist
}

// flattenHits turns the per-collection KB results into attribution entries,
// in fixed collection order.
func flattenHits(hits map[string][]kb.Hit) []model.KnowledgeSource {
	sources := []model.KnowledgeSource{}
	for _, collection := range []string{kb.CollectionKnowledgeBase, kb.CollectionPolicies, kb.CollectionSOPs} {
		for _, h := range hits[collection] {
			sources = append(sources, model.KnowledgeSource{
				Collection: collection,
				ID:         h.ID,
				Text:       h.Text,
				Similarity: h.Similarity,
			})
		}
	}
	return sources
}

func supportReasoning(ct model.CaseType, level model.RiskLevel, team string, sourceCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case classified as %s at %s risk, routed to %s.", ct, level, team)
	if sourceCount > 0 {
		fmt.Fprintf(&b, " Recommendations draw on %d knowledge sources.", sourceCount)
	}
	if model.RiskAtLeast(level, model.RiskHigh) {
		b.WriteString(" Additional verification and monitoring are recommended at this risk level.")
	}
	if team == "Fraud-Review" || team == "Escalation" {
		b.WriteString(" Specialized handling is required.")
	}
	return b.String()
}
