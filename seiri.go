// Package seiri is the public API for embedding the Seiri case triage server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := seiri.New(
//	    seiri.WithVersion(version),
//	    seiri.WithLogger(logger),
//	    seiri.WithTextClassifier(myLLMClassifier{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: seiri (root) imports
// internal/*, but internal/* never imports seiri (root). Public types
// (Classification, Feature, etc.) are standalone structs with no internal
// imports; the adapters bridging them to internal interfaces live here
// because this is the only file that sees both sides of the boundary.
package seiri

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/seiri-ai/seiri/api"
	"github.com/seiri-ai/seiri/internal/agent"
	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/breaker"
	"github.com/seiri-ai/seiri/internal/config"
	"github.com/seiri-ai/seiri/internal/infra"
	"github.com/seiri-ai/seiri/internal/kb"
	"github.com/seiri-ai/seiri/internal/mcp"
	"github.com/seiri-ai/seiri/internal/model"
	"github.com/seiri-ai/seiri/internal/orchestrator"
	"github.com/seiri-ai/seiri/internal/policy"
	"github.com/seiri-ai/seiri/internal/server"
	"github.com/seiri-ai/seiri/internal/telemetry"
)

// auditStore is an audit backend the App owns and must close.
type auditStore interface {
	audit.Store
	Close() error
}

// App is the Seiri server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	backend      infra.Backend
	store        auditStore
	sqlite       *audit.SQLiteStore // nil unless AUDIT_DB_PATH is set
	chain        *audit.Chain
	kb           *kb.Store
	policies     *policy.Client
	watcher      *policy.Watcher // nil unless the evaluator and POLICIES_DIR are configured
	orch         *orchestrator.Orchestrator
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Seiri server. It wires the infra backend, audit chain,
// knowledge base, agents, orchestrator, and HTTP server, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	if o.evaluatorURL != "" {
		cfg.PolicyEvaluatorURL = o.evaluatorURL
	}
	if o.mcpEnabled {
		cfg.MCPEnabled = true
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("seiri starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Infra backend: Redis when configured, in-memory otherwise. A Redis
	// that is configured but unreachable degrades to memory with a warning
	// rather than refusing to start.
	var backend infra.Backend
	if cfg.RedisURL != "" {
		r, err := infra.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory backend", "error", err)
			backend = infra.NewMemory()
		} else {
			logger.Info("infra backend: redis")
			backend = r
		}
	} else {
		logger.Info("infra backend: memory (no REDIS_URL)")
		backend = infra.NewMemory()
	}

	// Audit store: SQLite when AUDIT_DB_PATH is set, append-only JSONL
	// otherwise. Retention purging only applies to the SQLite store.
	var store auditStore
	var sqlite *audit.SQLiteStore
	if cfg.AuditDBPath != "" {
		sqlite, err = audit.NewSQLiteStore(cfg.AuditDBPath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
		store = sqlite
	} else {
		store, err = audit.NewFileStore(cfg.AuditLogPath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
	}
	chain, err := audit.NewChain(store)
	if err != nil {
		_ = store.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}

	// Knowledge base with the configured or auto-detected embedding provider.
	var provider kb.Provider = o.embeddingProvider
	if provider == nil {
		provider = newEmbeddingProvider(cfg, logger)
	}
	kbStore, err := kb.New(provider, cfg.VectorStoreDir, backend, logger)
	if err != nil {
		_ = store.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("kb: %w", err)
	}
	if err := kbStore.Seed(context.Background()); err != nil {
		logger.Warn("kb seed failed", "error", err)
	}

	// Policy evaluator client and the directory watcher feeding it.
	policies := policy.NewClient(cfg.PolicyEvaluatorURL)
	var watcher *policy.Watcher
	if policies.Enabled() && cfg.PoliciesDir != "" {
		watcher = policy.NewWatcher(cfg.PoliciesDir, policies, logger)
	}
	var evaluator agent.Evaluator = policies
	if o.policyEvaluator != nil {
		evaluator = o.policyEvaluator
	}

	// Agent pipeline, in run order.
	teams := model.NewTeamRegistry(nil)
	router := agent.NewRouter(evaluator, teams, logger)
	if watcher != nil {
		router.SetPolicySource(watcher.Loaded)
	}
	steps := []agent.Step{
		agent.NewClassifier(wrapTextClassifier(o.textClassifier), wrapClassifierModel(o.classifierModel), cfg.ConfidenceThreshold, logger),
		agent.NewRiskScorer(wrapRiskModel(o.riskModel), cfg.RiskThresholdHigh, cfg.RiskThresholdMedium, logger),
		router,
		agent.NewDecisionSupport(kbStore, logger),
		agent.NewCompliance(chain, cfg.PIIDetectionEnabled, logger),
	}

	orch := orchestrator.New(
		steps,
		breaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		teams,
		backend,
		cfg.MaxRetries,
		cfg.AgentTimeout,
		logger,
	)

	srvCfg := server.Config{
		Orchestrator:        orch,
		Chain:               chain,
		Policies:            policies,
		Watcher:             watcher,
		Limiter:             backend,
		Queue:               backend,
		Idempotency:         backend,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(orch, chain, logger, version).MCPServer()
		logger.Info("mcp: enabled at /mcp")
	}

	return &App{
		cfg:          cfg,
		backend:      backend,
		store:        store,
		sqlite:       sqlite,
		chain:        chain,
		kb:           kbStore,
		policies:     policies,
		watcher:      watcher,
		orch:         orch,
		srv:          server.New(srvCfg),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Orchestrator exposes the triage pipeline for embedding consumers that want
// to submit cases without going through HTTP.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Run starts the background loops and the HTTP server, then blocks until ctx
// is cancelled or the server fails. On cancellation it performs a graceful
// Shutdown before returning.
func (a *App) Run(ctx context.Context) error {
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
	if a.sqlite != nil && a.cfg.AuditLogRetentionDays > 0 {
		go a.auditPurgeLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the infra backend,
// the audit store, and the OTEL providers. Safe to call once.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("seiri shutting down")

	var firstErr error
	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		firstErr = err
	}
	cancel()

	if err := a.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	a.logger.Info("seiri stopped")
	return firstErr
}

// auditPurgeLoop deletes SQLite audit entries whose own retention deadline
// has passed, once a day. Each entry's deadline was computed at append time
// from its data class, so the cutoff is simply now. The hash chain stays
// verifiable from the first retained entry because each entry also records
// its own previous hash.
func (a *App) auditPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Format(time.RFC3339)
			n, err := a.sqlite.PurgeExpired(cutoff)
			if err != nil {
				a.logger.Warn("audit purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("audit entries purged", "count", n, "cutoff", cutoff)
			}
		}
	}
}

// newEmbeddingProvider selects the knowledge base embedding provider.
// Selection: "ollama", "hash", or "auto" (default). Auto mode uses Ollama
// when reachable and falls back to the deterministic hash provider, which
// needs no external service but only captures lexical similarity.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) kb.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return kb.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "hash":
		logger.Info("embedding provider: hash", "dimensions", dims)
		return kb.NewHashProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return kb.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		logger.Info("embedding provider: hash (ollama not reachable)", "dimensions", dims)
		return kb.NewHashProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Adapters from the public extension interfaces to the internal agent
// contracts. Each wrap function preserves nil so the agents keep their
// built-in fallbacks when no extension is installed.

type textClassifierAdapter struct{ c TextClassifier }

func (a textClassifierAdapter) ClassifyText(ctx context.Context, text string) (model.ClassificationResult, error) {
	res, err := a.c.ClassifyText(ctx, text)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return model.ClassificationResult{
		CaseType:      model.CaseType(res.CaseType),
		Urgency:       model.Urgency(res.Urgency),
		Confidence:    res.Confidence,
		Reasoning:     res.Reasoning,
		MissingFields: res.MissingFields,
	}, nil
}

func wrapTextClassifier(c TextClassifier) agent.TextClassifier {
	if c == nil {
		return nil
	}
	return textClassifierAdapter{c: c}
}

type classifierModelAdapter struct{ m ClassifierModel }

func (a classifierModelAdapter) PredictCaseType(text string) (model.CaseType, float64, error) {
	ct, conf, err := a.m.PredictCaseType(text)
	return model.CaseType(ct), conf, err
}

func (a classifierModelAdapter) PredictUrgency(text string) (model.Urgency, float64, error) {
	u, conf, err := a.m.PredictUrgency(text)
	return model.Urgency(u), conf, err
}

func wrapClassifierModel(m ClassifierModel) agent.ClassifierModel {
	if m == nil {
		return nil
	}
	return classifierModelAdapter{m: m}
}

type riskModelAdapter struct{ m RiskModel }

func (a riskModelAdapter) ScoreRisk(features []agent.Feature) (float64, []model.FeatureContribution, error) {
	pub := make([]Feature, len(features))
	for i, f := range features {
		pub[i] = Feature{Name: f.Name, Value: f.Value}
	}
	score, weights, err := a.m.ScoreRisk(pub)
	if err != nil {
		return 0, nil, err
	}
	contribs := make([]model.FeatureContribution, len(weights))
	for i, w := range weights {
		contribs[i] = model.FeatureContribution{
			Feature:    w.Feature,
			Importance: w.Importance,
			Direction:  w.Direction,
		}
	}
	return score, contribs, nil
}

func wrapRiskModel(m RiskModel) agent.RiskModel {
	if m == nil {
		return nil
	}
	return riskModelAdapter{m: m}
}
