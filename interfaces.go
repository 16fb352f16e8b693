package seiri

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/hash provider used by the knowledge base.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// PolicyEvaluator answers routing policy queries.
// When provided via WithPolicyEvaluator, replaces the built-in HTTP client
// for the policy evaluator (POLICY_EVALUATOR_URL). Enabled reports whether
// the evaluator is configured at all; when false the router falls back to
// its standard rules without calling Evaluate.
type PolicyEvaluator interface {
	Enabled() bool
	Evaluate(ctx context.Context, path string, input, data map[string]any) (map[string]any, error)
}

// TextClassifier is an optional LLM-backed classifier consulted first by the
// classification agent. When its confidence clears CONFIDENCE_THRESHOLD the
// answer is accepted without running the model or rule paths. Errors are
// soft: the pipeline falls through to the next classification path.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (Classification, error)
}

// ClassifierModel is an optional trained two-head classification model,
// consulted after the TextClassifier and before the rule-based fallback.
type ClassifierModel interface {
	PredictCaseType(text string) (caseType string, confidence float64, err error)
	PredictUrgency(text string) (urgency string, confidence float64, err error)
}

// RiskModel is an optional trained risk model scoring the extracted feature
// vector. Weights explain the score per feature, largest magnitude first.
// Errors are soft: the scorer falls back to its weighted-rules path.
type RiskModel interface {
	ScoreRisk(features []Feature) (score float64, weights []FeatureWeight, err error)
}
