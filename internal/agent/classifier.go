package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seiri-ai/seiri/internal/model"
)

// hintWeight is how many keyword matches a valid submitter hint counts for.
const hintWeight = 2

// Classifier determines case type and urgency through a hybrid cascade:
// LLM early-accept, then a trained model, then keyword rules. Both the LLM
// and the model are optional capabilities.
type Classifier struct {
	llm       TextClassifier
	ml        ClassifierModel
	threshold float64
	logger    *slog.Logger
}

// NewClassifier creates the classifier step. llm and ml may be nil, in which
// case the corresponding cascade stages are skipped. threshold is the LLM
// early-accept confidence.
func NewClassifier(llm TextClassifier, ml ClassifierModel, threshold float64, logger *slog.Logger) *Classifier {
	return &Classifier{llm: llm, ml: ml, threshold: threshold, logger: logger}
}

func (c *Classifier) Name() string { return model.AgentClassifier }

// Run classifies the case. Classification never hard-fails on its own: LLM
// and model trouble falls through to the rule path, which is total.
func (c *Classifier) Run(ctx context.Context, in *Input) model.AgentResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return hardFailure(c.Name(), err, start)
	}

	var llmRes *model.ClassificationResult
	if c.llm != nil {
		res, err := c.llm.ClassifyText(ctx, in.Text)
		if err != nil {
			c.logger.Warn("llm classification failed", "case_id", in.Case.ID, "error", err)
		} else {
			llmRes = &res
		}
	}
	if llmRes != nil && llmRes.Confidence >= c.threshold {
		return c.finish(in, *llmRes, start)
	}

	mlRes := c.classifyWithModel(in)
	return c.finish(in, combineClassifications(llmRes, mlRes), start)
}

func (c *Classifier) finish(in *Input, res model.ClassificationResult, start time.Time) model.AgentResult {
	res.MissingFields = missingFields(in.Case, res.CaseType)
	in.Classification = &res
	return model.AgentResult{
		AgentName:        c.Name(),
		Confidence:       res.Confidence,
		Result:           &res,
		Reasoning:        res.Reasoning,
		ProcessingTimeMS: elapsedMS(start),
	}
}

// classifyWithModel runs the trained two-head model, falling back to rules
// when the model is absent or errors.
func (c *Classifier) classifyWithModel(in *Input) model.ClassificationResult {
	if c.ml == nil {
		return c.classifyWithRules(in)
	}
	ct, ctConf, err := c.ml.PredictCaseType(in.Text)
	if err != nil {
		c.logger.Warn("case type model failed", "error", err)
		return c.classifyWithRules(in)
	}
	urgency, urConf, err := c.ml.PredictUrgency(in.Text)
	if err != nil {
		c.logger.Warn("urgency model failed", "error", err)
		return c.classifyWithRules(in)
	}
	return model.ClassificationResult{
		CaseType:   ct,
		Urgency:    urgency,
		Confidence: (ctConf + urConf) / 2,
		Reasoning:  fmt.Sprintf("model classification (case_type: %.2f, urgency: %.2f)", ctConf, urConf),
	}
}

// classifyWithRules scores keyword matches per head. Argmax ties break by
// declaration order. A valid submitter hint counts as hintWeight extra
// matches for its value.
func (c *Classifier) classifyWithRules(in *Input) model.ClassificationResult {
	text := in.Text

	caseType := model.CaseTypes[0]
	best := -1
	for _, ct := range model.CaseTypes {
		score := countMatches(text, caseTypeKeywords[ct])
		if in.Case.TypeHint == ct && in.Case.TypeHint.Valid() {
			score += hintWeight
		}
		if score > best {
			best, caseType = score, ct
		}
	}
	ctConf := ruleConfidence(best)

	urgency := model.Urgencies[0]
	best = -1
	for _, u := range model.Urgencies {
		score := countMatches(text, urgencyKeywords[u])
		if in.Case.UrgencyHint == u && in.Case.UrgencyHint.Valid() {
			score += hintWeight
		}
		if score > best {
			best, urgency = score, u
		}
	}
	urConf := ruleConfidence(best)

	// Fraud language in the narrative floors urgency at high so suspected
	// fraud is never parked in a slow queue.
	if countMatches(text, fraudIndicators) > 0 && !model.UrgencyAtLeast(urgency, model.UrgencyHigh) {
		urgency = model.UrgencyHigh
	}

	reasoning := fmt.Sprintf("rule-based classification (case_type: %.2f, urgency: %.2f)", ctConf, urConf)
	if matched := matchedKeywords(text, caseTypeKeywords[caseType]); len(matched) > 0 {
		reasoning += "; matched: " + strings.Join(matched, ", ")
	}

	return model.ClassificationResult{
		CaseType:   caseType,
		Urgency:    urgency,
		Confidence: (ctConf + urConf) / 2,
		Reasoning:  reasoning,
	}
}

// ruleConfidence caps keyword-match confidence: three matches reach the
// ceiling of 0.8.
func ruleConfidence(matches int) float64 {
	conf := float64(matches) / 3
	if conf > 0.8 {
		conf = 0.8
	}
	return conf
}

// combineClassifications merges the LLM and model/rule results. A lead of at
// least 0.1 in confidence wins outright; otherwise the more confident side
// supplies the labels and confidences are averaged.
func combineClassifications(llm *model.ClassificationResult, ml model.ClassificationResult) model.ClassificationResult {
	if llm == nil {
		return ml
	}
	if llm.Confidence > ml.Confidence+0.1 {
		return *llm
	}
	if ml.Confidence > llm.Confidence+0.1 {
		return ml
	}
	out := ml
	if llm.Confidence > ml.Confidence {
		out = *llm
	}
	out.Confidence = (llm.Confidence + ml.Confidence) / 2
	out.Reasoning = fmt.Sprintf("combined: llm (%.2f) + model (%.2f)", llm.Confidence, ml.Confidence)
	return out
}

// missingFields lists required fields absent from the case, given its type.
func missingFields(c *model.Case, ct model.CaseType) []string {
	out := []string{}
	if strings.TrimSpace(c.Title) == "" {
		out = append(out, "title")
	}
	if strings.TrimSpace(c.Description) == "" {
		out = append(out, "description")
	}
	switch ct {
	case model.CaseInsuranceClaim:
		if c.Amount == nil {
			out = append(out, "claim_amount")
		}
		if c.CustomerID == "" {
			out = append(out, "customer_id")
		}
	case model.CaseHealthcarePriorAuth:
		if c.CustomerID == "" {
			out = append(out, "patient_id")
		}
		if !metadataHas(c.Metadata, "provider") {
			out = append(out, "provider_information")
		}
	}
	return out
}

func metadataHas(md map[string]any, key string) bool {
	v, ok := md[key]
	if !ok {
		return false
	}
	s, isString := v.(string)
	return !isString || strings.TrimSpace(s) != ""
}
