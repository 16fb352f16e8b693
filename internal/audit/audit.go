// Package audit implements the tamper-evident audit log: a hash chain of
// triage audit entries over canonical JSON, with pluggable append-only stores.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/seiri-ai/seiri/internal/model"
)

// DataClass selects a retention period for stored records.
type DataClass string

const (
	ClassAuditLogs DataClass = "audit_logs"
	ClassCaseData  DataClass = "case_data"
	ClassPIIData   DataClass = "pii_data"
)

// Retention periods per data class, in days.
var retentionDays = map[DataClass]int{
	ClassAuditLogs: 365,
	ClassCaseData:  2555, // 7 years
	ClassPIIData:   90,
}

// RetentionDeadline computes the purge deadline for a data class.
func RetentionDeadline(class DataClass, from time.Time) time.Time {
	days, ok := retentionDays[class]
	if !ok {
		days = retentionDays[ClassAuditLogs]
	}
	return from.UTC().AddDate(0, 0, days)
}

// Entry is one link of the audit chain. Entries are append-only and never
// mutated after Append.
type Entry struct {
	AuditID           string               `json:"audit_id"`
	Timestamp         time.Time            `json:"timestamp"`
	CaseID            string               `json:"case_id"`
	AgentSummaries    []model.AgentSummary `json:"agent_summaries"`
	PIIDetected       bool                 `json:"pii_detected"`
	PIITypes          []string             `json:"pii_types"`
	PreviousHash      string               `json:"previous_hash"`
	CurrentHash       string               `json:"current_hash"`
	RetentionDeadline time.Time            `json:"retention_deadline"`
}

// hashPayload is the exact field set covered by the chain hash. The JSON
// keys sort into the canonical order under RFC 8785.
type hashPayload struct {
	AgentSummaries []model.AgentSummary `json:"agent_summaries"`
	AuditID        string               `json:"audit_id"`
	CaseID         string               `json:"case_id"`
	PIIDetected    bool                 `json:"pii_detected"`
	PIITypes       []string             `json:"pii_types"`
	PreviousHash   string               `json:"previous_hash"`
	Timestamp      string               `json:"timestamp"`
}

// ComputeHash produces the SHA-256 hex digest of the entry's canonical JSON
// (sorted keys, no extraneous whitespace). CurrentHash is excluded from its
// own preimage.
func ComputeHash(e Entry) (string, error) {
	payload := hashPayload{
		AgentSummaries: e.AgentSummaries,
		AuditID:        e.AuditID,
		CaseID:         e.CaseID,
		PIIDetected:    e.PIIDetected,
		PIITypes:       e.PIITypes,
		PreviousHash:   e.PreviousHash,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("audit: marshal hash payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize hash payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Marshal serializes an entry as one canonical JSON line (no trailing
// newline). Store implementations persist exactly these bytes.
func Marshal(e Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	return canonical, nil
}
