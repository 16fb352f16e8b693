package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/model"
)

// piiPattern is one detector in the ordered redaction list.
type piiPattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// piiPatterns is applied in order; replacement tokens contain no digits, so
// redaction is idempotent and later patterns cannot re-match earlier tokens.
var piiPatterns = []piiPattern{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{"credit_card", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), "[CC_REDACTED]"},
	{"phone", regexp.MustCompile(`\b\(?\d{3}\)?[\s-]?\d{3}[\s-]?\d{4}\b`), "[PHONE_REDACTED]"},
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{"address", regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr)\b`), "[ADDRESS_REDACTED]"},
	{"account_number", regexp.MustCompile(`\b\d{8,}\b`), "[ACCOUNT_REDACTED]"},
	{"date_of_birth", regexp.MustCompile(`(?i)\b(?:DOB|Date of Birth|Birth Date)[:\s]*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`), "[DOB_REDACTED]"},
}

// requiredFields lists compliance-mandated case fields per type. Fields
// without a dedicated Case attribute are looked up in metadata.
var requiredFields = map[model.CaseType][]string{
	model.CaseInsuranceClaim:      {"customer_id", "amount", "description"},
	model.CaseHealthcarePriorAuth: {"patient_id", "provider", "treatment"},
	model.CaseBankDispute:         {"account_number", "transaction_id", "amount"},
	model.CaseLegalIntake:         {"client_name", "case_type", "description"},
}

var sensitiveKeywords = []string{
	"confidential", "secret", "private", "internal", "restricted",
	"classified", "sensitive", "proprietary", "trade secret",
}

// lowConfidenceFloor flags agents whose confidence falls below it.
const lowConfidenceFloor = 0.7

// caseRetentionDays is the case-data retention window (seven years).
const caseRetentionDays = 2555

// Compliance detects and redacts PII, checks compliance issues, and appends
// the run's entry to the audit hash chain.
type Compliance struct {
	chain      *audit.Chain
	piiEnabled bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewCompliance creates the compliance step.
func NewCompliance(chain *audit.Chain, piiEnabled bool, logger *slog.Logger) *Compliance {
	return &Compliance{chain: chain, piiEnabled: piiEnabled, logger: logger, now: time.Now}
}

func (a *Compliance) Name() string { return model.AgentCompliance }

// Run performs the compliance pass. An audit append failure is the one hard
// failure of the pipeline tail: without the chain entry the run must not be
// reported as complete.
func (a *Compliance) Run(ctx context.Context, in *Input) model.AgentResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hardFailure(a.Name(), err, start)
	}

	text := complianceText(in.Case)
	redacted := in.Case.Clone()
	var piiTypes []string
	if a.piiEnabled {
		piiTypes = detectPII(text)
		redacted = redactCase(redacted, piiTypes)
	}
	piiDetected := len(piiTypes) > 0
	if piiTypes == nil {
		piiTypes = []string{}
	}

	issues := a.complianceIssues(in, text)

	summaries := make([]model.AgentSummary, 0, len(in.Results))
	for _, r := range in.Results {
		summaries = append(summaries, model.AgentSummary{
			Agent:            r.AgentName,
			Confidence:       r.Confidence,
			ProcessingTimeMS: r.ProcessingTimeMS,
		})
	}
	entry, err := a.chain.Append(in.Case.ID, summaries, piiDetected, piiTypes, audit.ClassAuditLogs)
	if err != nil {
		return hardFailure(a.Name(), fmt.Errorf("agent: audit append: %w", err), start)
	}

	confidence := 0.8
	if piiDetected {
		confidence -= 0.1
	}
	penalty := 0.05 * float64(len(issues))
	if penalty > 0.3 {
		penalty = 0.3
	}
	confidence = clip01(confidence - penalty)

	res := model.ComplianceResult{
		PIIDetected:      piiDetected,
		PIITypes:         piiTypes,
		RedactedCase:     redacted,
		AuditID:          entry.AuditID,
		ComplianceIssues: issues,
		Confidence:       confidence,
		Reasoning:        complianceReasoning(piiTypes, issues),
	}
	in.Compliance = &res
	return model.AgentResult{
		AgentName:        a.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		ProcessingTimeMS: elapsedMS(start),
	}
}

// complianceText combines the fields scanned for PII and sensitive keywords.
// Unlike CombinedText it preserves case, includes the customer ID, and walks
// nested metadata values so detection covers everything redaction touches.
func complianceText(c *model.Case) string {
	parts := []string{}
	for _, field := range []string{c.Title, c.Description, c.CustomerID} {
		if field != "" {
			parts = append(parts, field)
		}
	}
	parts = collectStrings(c.Metadata, parts)
	return strings.Join(parts, " ")
}

func collectStrings(v any, parts []string) []string {
	switch val := v.(type) {
	case string:
		parts = append(parts, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = collectStrings(val[k], parts)
		}
	case []any:
		for _, elem := range val {
			parts = collectStrings(elem, parts)
		}
	}
	return parts
}

// detectPII returns the names of patterns matching text, in pattern order.
func detectPII(text string) []string {
	var types []string
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			types = append(types, p.name)
		}
	}
	return types
}

// redactCase replaces every match of the detected patterns in the case's
// string fields, recursing through metadata values. The case must already
// be a private copy.
func redactCase(c model.Case, detected []string) model.Case {
	patterns := make([]piiPattern, 0, len(detected))
	for _, p := range piiPatterns {
		for _, name := range detected {
			if p.name == name {
				patterns = append(patterns, p)
			}
		}
	}
	c.Title = redactString(c.Title, patterns)
	c.Description = redactString(c.Description, patterns)
	c.CustomerID = redactString(c.CustomerID, patterns)
	if c.Metadata != nil {
		c.Metadata = redactValue(c.Metadata, patterns).(map[string]any)
	}
	return c
}

func redactString(s string, patterns []piiPattern) string {
	for _, p := range patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

func redactValue(v any, patterns []piiPattern) any {
	switch val := v.(type) {
	case string:
		return redactString(val, patterns)
	case map[string]any:
		for k, elem := range val {
			val[k] = redactValue(elem, patterns)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = redactValue(elem, patterns)
		}
		return val
	default:
		return val
	}
}

// complianceIssues collects rule violations: missing required fields for the
// classified type, sensitive keywords in the case text, low-confidence agent
// results, and case data past its retention limit.
func (a *Compliance) complianceIssues(in *Input, text string) []string {
	issues := []string{}

	caseType := model.CaseInsuranceClaim
	if in.Classification != nil {
		caseType = in.Classification.CaseType
	}
	for _, field := range requiredFields[caseType] {
		if !hasRequiredField(in.Case, field) {
			issues = append(issues, "missing_required_field: "+field)
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			issues = append(issues, "sensitive_keyword_detected: "+kw)
		}
	}

	for _, r := range in.Results {
		if r.Confidence < lowConfidenceFloor {
			issues = append(issues, fmt.Sprintf("low_confidence_agent: %s (%.2f)", r.AgentName, r.Confidence))
		}
	}

	if created, ok := in.Case.Metadata["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			if ts.Before(a.now().AddDate(0, 0, -caseRetentionDays)) {
				issues = append(issues, "data_retention_limit_exceeded")
			}
		}
	}
	return issues
}

// hasRequiredField resolves a compliance field name against the case.
// case_type is always satisfied once classification ran; unknown names fall
// through to metadata.
func hasRequiredField(c *model.Case, field string) bool {
	switch field {
	case "customer_id":
		return c.CustomerID != ""
	case "amount":
		return c.Amount != nil
	case "title":
		return strings.TrimSpace(c.Title) != ""
	case "description":
		return strings.TrimSpace(c.Description) != ""
	case "case_type":
		return true
	default:
		v, ok := c.Metadata[field]
		if !ok {
			return false
		}
		s, isString := v.(string)
		return !isString || strings.TrimSpace(s) != ""
	}
}

func complianceReasoning(piiTypes, issues []string) string {
	var parts []string
	if len(piiTypes) > 0 {
		parts = append(parts, "PII detected: "+strings.Join(piiTypes, ", "))
	} else {
		parts = append(parts, "No PII detected")
	}
	if len(issues) > 0 {
		parts = append(parts, fmt.Sprintf("Compliance issues found: %d", len(issues)))
		for i, issue := range issues {
			if i == 3 {
				break
			}
			parts = append(parts, "- "+issue)
		}
	} else {
		parts = append(parts, "No compliance issues detected")
	}
	return strings.Join(parts, ". ")
}
