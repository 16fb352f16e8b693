// Package agent implements the five triage pipeline steps: classifier,
// risk scorer, router, decision support, and compliance.
//
// Every step returns a model.AgentResult and never panics past its own
// boundary. Recoverable trouble inside a step collapses to the step's
// documented safe default with SoftFailure set; only context cancellation
// and audit append failures surface as hard errors, which the orchestrator
// may retry or propagate.
package agent

import (
	"context"
	"time"

	"github.com/seiri-ai/seiri/internal/model"
)

// Input is the shared state threaded through one triage run. Each step reads
// the typed outputs of its predecessors and writes its own before returning;
// steps run strictly sequentially, so no locking is needed.
type Input struct {
	Case *model.Case
	// Text is the lowercased combined case text, computed once per run.
	Text string

	Classification *model.ClassificationResult
	Risk           *model.RiskScoreResult
	Routing        *model.RoutingResult
	Support        *model.DecisionSupportResult
	Compliance     *model.ComplianceResult

	// Results accumulates the envelopes of completed steps in order.
	Results []model.AgentResult
}

// NewInput prepares the run state for a case.
func NewInput(c *model.Case) *Input {
	return &Input{Case: c, Text: c.CombinedText()}
}

// Step is one stage of the triage pipeline.
type Step interface {
	Name() string
	Run(ctx context.Context, in *Input) model.AgentResult
}

// TextClassifier is an optional LLM-backed classifier. When configured and
// confident enough its answer is accepted without running the model or rule
// paths.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (model.ClassificationResult, error)
}

// ClassifierModel is an optional trained two-head classification model.
type ClassifierModel interface {
	PredictCaseType(text string) (model.CaseType, float64, error)
	PredictUrgency(text string) (model.Urgency, float64, error)
}

// Feature is one named entry of the risk feature vector, in extraction order.
type Feature struct {
	Name  string
	Value float64
}

// RiskModel is an optional trained risk model scoring the feature vector.
// Contributions explain the score per feature, largest magnitude first.
type RiskModel interface {
	ScoreRisk(features []Feature) (float64, []model.FeatureContribution, error)
}

// elapsedMS returns wall time since start in whole milliseconds.
func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// hardFailure builds the envelope for an error the orchestrator must see.
func hardFailure(name string, err error, start time.Time) model.AgentResult {
	return model.AgentResult{
		AgentName:        name,
		Confidence:       0,
		Reasoning:        err.Error(),
		Error:            err.Error(),
		ProcessingTimeMS: elapsedMS(start),
	}
}

// dedupe removes duplicates preserving first occurrence.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
