package seiri

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	redisURL          string
	evaluatorURL      string
	logger            *slog.Logger
	version           string
	mcpEnabled        bool
	embeddingProvider EmbeddingProvider
	policyEvaluator   PolicyEvaluator
	textClassifier    TextClassifier
	classifierModel   ClassifierModel
	riskModel         RiskModel
}

// WithPort overrides the TCP port from config (SEIRI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithRedisURL overrides the Redis connection string from config (REDIS_URL
// env var). When neither is set the in-memory backend is used.
func WithRedisURL(url string) Option {
	return func(o *resolvedOptions) { o.redisURL = url }
}

// WithEvaluatorURL overrides the policy evaluator base URL from config
// (POLICY_EVALUATOR_URL env var).
func WithEvaluatorURL(url string) Option {
	return func(o *resolvedOptions) { o.evaluatorURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMCP mounts the MCP server at /mcp regardless of the SEIRI_MCP env var.
func WithMCP() Option {
	return func(o *resolvedOptions) { o.mcpEnabled = true }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/hash) backing the knowledge base.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithPolicyEvaluator replaces the built-in HTTP policy evaluator client.
// When set, POLICY_EVALUATOR_URL is ignored for routing decisions; the HTTP
// policy management endpoints still proxy to the configured URL.
func WithPolicyEvaluator(p PolicyEvaluator) Option {
	return func(o *resolvedOptions) { o.policyEvaluator = p }
}

// WithTextClassifier installs an LLM-backed classifier consulted before the
// model and rule paths.
func WithTextClassifier(c TextClassifier) Option {
	return func(o *resolvedOptions) { o.textClassifier = c }
}

// WithClassifierModel installs a trained classification model consulted
// before the rule-based fallback.
func WithClassifierModel(m ClassifierModel) Option {
	return func(o *resolvedOptions) { o.classifierModel = m }
}

// WithRiskModel installs a trained risk model; the weighted-rules scorer
// remains the fallback when it errors.
func WithRiskModel(m RiskModel) Option {
	return func(o *resolvedOptions) { o.riskModel = m }
}
