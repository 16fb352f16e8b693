package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/seiri-ai/seiri/internal/model"
)

// Blend weights when a trained risk model is available.
const (
	mlWeight   = 0.7
	ruleWeight = 0.3
)

// RiskScorer computes the case risk score and band. Rule scoring is always
// available; a trained model, when configured, is blended in at mlWeight.
type RiskScorer struct {
	ml            RiskModel
	thresholdHigh float64
	thresholdMed  float64
	logger        *slog.Logger
}

// NewRiskScorer creates the risk scoring step. ml may be nil.
func NewRiskScorer(ml RiskModel, thresholdHigh, thresholdMed float64, logger *slog.Logger) *RiskScorer {
	return &RiskScorer{ml: ml, thresholdHigh: thresholdHigh, thresholdMed: thresholdMed, logger: logger}
}

func (s *RiskScorer) Name() string { return model.AgentRiskScorer }

// Run scores the case. A missing classification collapses to the safe
// default of (0.5, medium).
func (s *RiskScorer) Run(ctx context.Context, in *Input) model.AgentResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hardFailure(s.Name(), err, start)
	}
	if in.Classification == nil {
		return s.softFail(in, "risk scoring failed: no classification available", start)
	}

	features := riskFeatures(in.Case, in.Classification, in.Text)
	res := s.scoreWithRules(in)

	if s.ml != nil {
		mlScore, contributions, err := s.ml.ScoreRisk(features)
		if err != nil {
			s.logger.Warn("risk model failed, using rules only", "case_id", in.Case.ID, "error", err)
		} else {
			res = s.blend(res, mlScore, contributions, features)
		}
	}

	in.Risk = &res
	return model.AgentResult{
		AgentName:        s.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Rationale,
		ProcessingTimeMS: elapsedMS(start),
	}
}

func (s *RiskScorer) softFail(in *Input, reason string, start time.Time) model.AgentResult {
	res := model.RiskScoreResult{
		RiskScore:   0.5,
		RiskLevel:   model.RiskMedium,
		Confidence:  0.5,
		Rationale:   reason,
		TopFeatures: []model.FeatureContribution{},
		RiskFactors: []string{"scoring_error"},
	}
	in.Risk = &res
	return model.AgentResult{
		AgentName:        s.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Rationale,
		SoftFailure:      true,
		ProcessingTimeMS: elapsedMS(start),
	}
}

// scoreWithRules applies the additive rule table, capped at 1.0.
func (s *RiskScorer) scoreWithRules(in *Input) model.RiskScoreResult {
	cls := in.Classification
	score := 0.0
	var factors []string

	switch cls.CaseType {
	case model.CaseFraudReview:
		score += 0.4
		factors = append(factors, "fraud_review_case")
	case model.CaseLegalIntake:
		score += 0.3
		factors = append(factors, "legal_case")
	case model.CaseBankDispute:
		score += 0.25
		factors = append(factors, "bank_dispute")
	}

	switch cls.Urgency {
	case model.UrgencyCritical:
		score += 0.3
		factors = append(factors, "critical_urgency")
	case model.UrgencyHigh:
		score += 0.2
		factors = append(factors, "high_urgency")
	}

	if in.Case.Amount != nil {
		switch amount := *in.Case.Amount; {
		case amount > 10000:
			score += 0.2
			factors = append(factors, "high_amount")
		case amount > 5000:
			score += 0.1
			factors = append(factors, "medium_amount")
		}
	}

	switch missing := len(cls.MissingFields); {
	case missing > 3:
		score += 0.15
		factors = append(factors, "many_missing_fields")
	case missing >= 1:
		score += 0.05
		factors = append(factors, "missing_fields")
	}

	if countMatches(in.Text, fraudIndicators) > 0 {
		score += 0.2
		factors = append(factors, "fraud_indicators")
	}
	if countMatches(in.Text, complexityIndicators) > 0 {
		score += 0.1
		factors = append(factors, "complexity_indicators")
	}

	if score > 1.0 {
		score = 1.0
	}

	top := make([]model.FeatureContribution, 0, len(factors))
	for _, f := range factors {
		top = append(top, model.FeatureContribution{Feature: f, Importance: 0.1, Direction: "increases"})
	}
	return model.RiskScoreResult{
		RiskScore:   score,
		RiskLevel:   s.toRiskLevel(score),
		Confidence:  0.7,
		Rationale:   fmt.Sprintf("rule-based risk scoring from %d risk factors", len(factors)),
		TopFeatures: top,
		RiskFactors: factors,
	}
}

// blend folds a model score into the rule result at mlWeight/ruleWeight.
func (s *RiskScorer) blend(rules model.RiskScoreResult, mlScore float64, contributions []model.FeatureContribution, features []Feature) model.RiskScoreResult {
	score := mlWeight*mlScore + ruleWeight*rules.RiskScore
	top := contributions
	if len(top) > 10 {
		top = top[:10]
	}
	if len(top) == 0 {
		top = rules.TopFeatures
	}
	factors := dedupe(append(modelRiskFactors(features), rules.RiskFactors...))
	return model.RiskScoreResult{
		RiskScore:   score,
		RiskLevel:   s.toRiskLevel(score),
		Confidence:  mlWeight*0.9 + ruleWeight*rules.Confidence,
		Rationale:   fmt.Sprintf("combined model (%.2f) and rule-based (%.2f) scoring", mlScore, rules.RiskScore),
		TopFeatures: top,
		RiskFactors: factors,
	}
}

func (s *RiskScorer) toRiskLevel(score float64) model.RiskLevel {
	switch {
	case score >= s.thresholdHigh:
		return model.RiskHigh
	case score >= s.thresholdMed:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// riskFeatures builds the feature vector in fixed extraction order.
func riskFeatures(c *model.Case, cls *model.ClassificationResult, text string) []Feature {
	amount := 0.0
	if c.Amount != nil {
		amount = *c.Amount
	}
	missing := len(cls.MissingFields)

	return []Feature{
		{"text_length", float64(len(text))},
		{"word_count", float64(len(strings.Fields(text)))},
		{"case_type_insurance", boolFeature(cls.CaseType == model.CaseInsuranceClaim)},
		{"case_type_healthcare", boolFeature(cls.CaseType == model.CaseHealthcarePriorAuth)},
		{"case_type_bank", boolFeature(cls.CaseType == model.CaseBankDispute)},
		{"case_type_legal", boolFeature(cls.CaseType == model.CaseLegalIntake)},
		{"case_type_fraud", boolFeature(cls.CaseType == model.CaseFraudReview)},
		{"urgency_critical", boolFeature(cls.Urgency == model.UrgencyCritical)},
		{"urgency_high", boolFeature(cls.Urgency == model.UrgencyHigh)},
		{"urgency_medium", boolFeature(cls.Urgency == model.UrgencyMedium)},
		{"urgency_low", boolFeature(cls.Urgency == model.UrgencyLow)},
		{"amount", amount},
		{"amount_log", math.Log1p(amount)},
		{"has_amount", boolFeature(c.Amount != nil)},
		{"has_customer_id", boolFeature(c.CustomerID != "")},
		{"customer_id_length", float64(len(c.CustomerID))},
		{"metadata_count", float64(len(c.Metadata))},
		{"has_attachments", boolFeature(len(c.Attachments) > 0)},
		{"fraud_indicators", float64(countMatches(text, fraudIndicators))},
		{"urgency_indicators", float64(countMatches(text, urgencyIndicators))},
		{"complexity_indicators", float64(countMatches(text, complexityIndicators))},
		{"financial_indicators", float64(countMatches(text, financialIndicators))},
		{"missing_fields_count", float64(missing)},
		{"has_missing_fields", boolFeature(missing > 0)},
	}
}

// modelRiskFactors names the salient risk factors visible in the feature
// vector, used when the model path contributes to the final score.
func modelRiskFactors(features []Feature) []string {
	byName := make(map[string]float64, len(features))
	for _, f := range features {
		byName[f.Name] = f.Value
	}
	var factors []string
	if byName["case_type_fraud"] > 0 {
		factors = append(factors, "fraud_case_type")
	}
	if byName["urgency_critical"] > 0 {
		factors = append(factors, "critical_urgency")
	} else if byName["urgency_high"] > 0 {
		factors = append(factors, "high_urgency")
	}
	if byName["amount"] > 10000 {
		factors = append(factors, "high_amount")
	}
	if byName["fraud_indicators"] > 0 {
		factors = append(factors, "fraud_indicators")
	}
	if byName["complexity_indicators"] > 0 {
		factors = append(factors, "complexity_indicators")
	}
	if byName["missing_fields_count"] > 3 {
		factors = append(factors, "many_missing_fields")
	}
	return factors
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
