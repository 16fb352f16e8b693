package agent

import (
	"strings"

	"github.com/seiri-ai/seiri/internal/model"
)

// caseTypeKeywords drives rule-based type classification. A match is a
// case-insensitive substring hit against the combined case text.
var caseTypeKeywords = map[model.CaseType][]string{
	model.CaseInsuranceClaim: {
		"claim", "insurance", "policy", "coverage", "premium", "deductible",
		"medical", "dental", "vision", "accident", "disability",
	},
	model.CaseHealthcarePriorAuth: {
		"prior authorization", "pre-authorization", "medical necessity",
		"treatment plan", "prescription", "medication", "procedure",
	},
	model.CaseBankDispute: {
		"dispute", "chargeback", "fraudulent", "unauthorized", "bank",
		"credit card", "debit", "transaction", "refund",
	},
	model.CaseLegalIntake: {
		"legal", "attorney", "lawyer", "lawsuit", "litigation", "contract",
		"breach", "damages", "settlement", "court",
	},
	model.CaseFraudReview: {
		"fraud", "suspicious", "investigation", "identity theft", "forgery",
		"counterfeit", "embezzlement", "money laundering",
	},
}

// urgencyKeywords drives rule-based urgency classification.
var urgencyKeywords = map[model.Urgency][]string{
	model.UrgencyCritical: {
		"emergency", "urgent", "immediate", "critical", "life-threatening",
		"severe", "acute", "trauma", "cardiac", "stroke",
	},
	model.UrgencyHigh: {
		"high priority", "important", "time-sensitive", "deadline",
		"escalation", "complaint", "dispute",
	},
	model.UrgencyMedium: {
		"standard", "routine", "normal", "regular", "scheduled",
	},
	model.UrgencyLow: {
		"low priority", "non-urgent", "routine", "maintenance", "inquiry",
	},
}

// Risk indicator buckets scanned by the risk scorer and, for the fraud
// bucket, by the classifier's urgency floor.
var (
	fraudIndicators = []string{
		"suspicious", "unusual", "unexpected", "anomaly", "irregular",
		"duplicate", "multiple claims", "recent policy", "high amount",
	}
	urgencyIndicators = []string{
		"emergency", "urgent", "immediate", "critical", "time-sensitive",
		"deadline", "escalation", "complaint",
	}
	complexityIndicators = []string{
		"complex", "complicated", "multiple parties", "legal", "litigation",
		"dispute", "appeal", "review", "investigation",
	}
	financialIndicators = []string{
		"high value", "large amount", "expensive", "costly", "premium",
		"deductible", "coverage", "policy limit",
	}
)

// countMatches returns how many keywords occur in text.
func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// matchedKeywords returns the keywords that occur in text, in list order.
func matchedKeywords(text string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}
