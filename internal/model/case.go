// Package model defines the domain types shared across the triage pipeline.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// CaseType is the domain category a case belongs to.
type CaseType string

const (
	CaseInsuranceClaim      CaseType = "insurance_claim"
	CaseHealthcarePriorAuth CaseType = "healthcare_prior_auth"
	CaseBankDispute         CaseType = "bank_dispute"
	CaseLegalIntake         CaseType = "legal_intake"
	CaseFraudReview         CaseType = "fraud_review"
)

// CaseTypes lists all case types in declaration order. Rule-based
// classification breaks argmax ties by this order.
var CaseTypes = []CaseType{
	CaseInsuranceClaim,
	CaseHealthcarePriorAuth,
	CaseBankDispute,
	CaseLegalIntake,
	CaseFraudReview,
}

// Valid reports whether t is a known case type.
func (t CaseType) Valid() bool {
	for _, k := range CaseTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Urgency is how quickly a case needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Urgencies lists all urgency levels in declaration order.
var Urgencies = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical}

// Valid reports whether u is a known urgency level.
func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// urgencyRank maps urgency to a comparable rank.
var urgencyRank = map[Urgency]int{
	UrgencyLow: 0, UrgencyMedium: 1, UrgencyHigh: 2, UrgencyCritical: 3,
}

// UrgencyAtLeast reports whether u is at or above min.
func UrgencyAtLeast(u, min Urgency) bool {
	return urgencyRank[u] >= urgencyRank[min]
}

// RiskLevel is the banded risk of a case.
//
// RiskExtreme is accepted as input (upstream enrichment may supply it) but
// the scorer itself only ever emits low, medium, or high.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// riskRank maps risk level to a comparable rank.
var riskRank = map[RiskLevel]int{
	RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskExtreme: 3,
}

// RiskAtLeast reports whether level is at or above min.
func RiskAtLeast(level, min RiskLevel) bool {
	return riskRank[level] >= riskRank[min]
}

// Attachment describes a file attached to a case. The core never reads
// attachment content; descriptors ride along for downstream handlers.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Case is the input to a triage run. The core never mutates a Case; the
// compliance agent works on a deep copy when redacting.
type Case struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Amount      *float64       `json:"amount,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`

	// Submitter hints. The classifier weighs a valid hint heavily but still
	// runs its own keyword analysis, so a bogus hint cannot skip triage.
	TypeHint    CaseType `json:"case_type_hint,omitempty"`
	UrgencyHint Urgency  `json:"urgency_hint,omitempty"`
}

// Validate checks boundary invariants. Missing optional fields are not
// errors; the classifier surfaces them in missing_fields instead.
func (c Case) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("model: case title must not be empty")
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("model: case description must not be empty")
	}
	if c.Amount != nil && *c.Amount < 0 {
		return fmt.Errorf("model: case amount must be non-negative")
	}
	return nil
}

// CombinedText returns the lowercased concatenation of title, description,
// and stringified metadata values. Metadata keys are walked in sorted order
// so the result is deterministic.
func (c Case) CombinedText() string {
	parts := []string{c.Title, c.Description}
	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v", c.Metadata[k]))
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Clone returns a deep copy of the case. Metadata values are copied one
// level deep; nested maps and slices are copied recursively so redaction
// never aliases the caller's data.
func (c Case) Clone() Case {
	out := c
	if c.Amount != nil {
		amount := *c.Amount
		out.Amount = &amount
	}
	if c.Metadata != nil {
		out.Metadata = cloneValue(c.Metadata).(map[string]any)
	}
	if c.Attachments != nil {
		out.Attachments = make([]Attachment, len(c.Attachments))
		copy(out.Attachments, c.Attachments)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			m[k] = cloneValue(elem)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, elem := range val {
			s[i] = cloneValue(elem)
		}
		return s
	default:
		return val
	}
}
