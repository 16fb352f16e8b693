package kb

import (
	"context"
	"fmt"
)

// seedDoc is one built-in corpus document.
type seedDoc struct {
	collection string
	category   string
	text       string
}

// seedCorpus is the starter corpus loaded into empty stores so decision
// support has something to retrieve before operators curate their own.
var seedCorpus = []seedDoc{
	{CollectionKnowledgeBase, "insurance_claim", "Standard insurance claims require policy verification, damage assessment, and documentation of the incident. Claims above the deductible proceed to adjuster review."},
	{CollectionKnowledgeBase, "insurance_claim", "Auto claims under 1000 in estimated damage qualify for express processing when the policyholder has no claims in the prior 12 months."},
	{CollectionKnowledgeBase, "healthcare_prior_auth", "Prior authorization requests need the patient identifier, provider information, procedure codes, and clinical justification. Emergency procedures may be expedited with retrospective review."},
	{CollectionKnowledgeBase, "bank_dispute", "Card dispute handling follows the network chargeback flow: provisional credit within 10 business days, merchant response window, and final resolution within 90 days."},
	{CollectionKnowledgeBase, "legal_intake", "Legal intake matters are conflict-checked before assignment. Litigation holds apply to all related correspondence from the moment of intake."},
	{CollectionKnowledgeBase, "fraud_review", "Fraud review cases freeze automated payouts pending investigation. Duplicate submissions, recently opened policies, and unusual claim velocity are primary indicators."},
	{CollectionPolicies, "", "Escalation policy: cases at high or extreme risk route to the escalation team with a four hour service level. Escalations require a documented rationale."},
	{CollectionPolicies, "", "Capacity policy: teams above ninety percent utilization stop receiving new assignments; work reroutes to the designated alternative team."},
	{CollectionPolicies, "", "Data handling policy: personally identifiable information is redacted before case content is shared outside the handling team. Audit records retain redacted content only."},
	{CollectionSOPs, "", "SOP: verify customer identity against the case record before any outbound contact."},
	{CollectionSOPs, "", "SOP: for suspected fraud, preserve original submissions, do not notify the customer of the investigation, and hand off to the fraud review queue within one business day."},
	{CollectionSOPs, "", "SOP: document every decision with the supporting evidence and the rule or policy applied."},
}

// Seed loads the starter corpus into any empty collection. Non-empty
// collections are left untouched.
func (s *Store) Seed(ctx context.Context) error {
	wasEmpty := make(map[string]bool, len(Collections))
	for _, name := range Collections {
		wasEmpty[name] = s.Count(name) == 0
	}
	seeded := 0
	for _, d := range seedCorpus {
		if !wasEmpty[d.collection] {
			continue
		}
		if _, err := s.Add(ctx, d.collection, d.text, nil, d.category); err != nil {
			return fmt.Errorf("kb: seed %s: %w", d.collection, err)
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("knowledge base seeded", "documents", seeded)
	}
	return nil
}
