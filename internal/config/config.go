// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Triage thresholds.
	RiskThresholdHigh   float64
	RiskThresholdMedium float64
	ConfidenceThreshold float64 // LLM early-accept threshold.

	// Orchestrator settings.
	MaxRetries              int
	AgentTimeout            time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Rate limiting.
	RateLimitPerMinute int

	// Compliance settings.
	PIIDetectionEnabled   bool
	AuditLogRetentionDays int

	// Infra endpoints.
	RedisURL           string // Empty: fall back to the in-memory backend.
	PolicyEvaluatorURL string
	PoliciesDir        string
	VectorStoreDir     string
	AuditLogPath       string
	AuditDBPath        string // Non-empty: use the SQLite audit store instead of the JSONL file.

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "ollama", or "hash"
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MCPEnabled          bool
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                    envInt("SEIRI_PORT", 8080),
		ReadTimeout:             envDuration("SEIRI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:            envDuration("SEIRI_WRITE_TIMEOUT", 30*time.Second),
		RiskThresholdHigh:       envFloat("RISK_THRESHOLD_HIGH", 0.7),
		RiskThresholdMedium:     envFloat("RISK_THRESHOLD_MEDIUM", 0.4),
		ConfidenceThreshold:     envFloat("CONFIDENCE_THRESHOLD", 0.8),
		MaxRetries:              envInt("MAX_RETRIES", 3),
		AgentTimeout:            time.Duration(envInt("TIMEOUT_SECONDS", 30)) * time.Second,
		CircuitBreakerThreshold: envInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerTimeout:   time.Duration(envInt("CIRCUIT_BREAKER_TIMEOUT", 60)) * time.Second,
		RateLimitPerMinute:      envInt("RATE_LIMIT_PER_MINUTE", 60),
		PIIDetectionEnabled:     envBool("PII_DETECTION_ENABLED", true),
		AuditLogRetentionDays:   envInt("AUDIT_LOG_RETENTION_DAYS", 365),
		RedisURL:                envStr("REDIS_URL", ""),
		PolicyEvaluatorURL:      envStr("POLICY_EVALUATOR_URL", ""),
		PoliciesDir:             envStr("POLICIES_DIR", "policies"),
		VectorStoreDir:          envStr("VECTOR_STORE_DIR", "data/vector_store"),
		AuditLogPath:            envStr("AUDIT_LOG_PATH", "data/audit.log"),
		AuditDBPath:             envStr("AUDIT_DB_PATH", ""),
		EmbeddingProvider:       envStr("SEIRI_EMBEDDING_PROVIDER", "auto"),
		EmbeddingDimensions:     envInt("EMBEDDING_DIMENSIONS", 384),
		OllamaURL:               envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:             envStr("OLLAMA_MODEL", "nomic-embed-text"),
		OTELEndpoint:            envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:            envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:             envStr("OTEL_SERVICE_NAME", "seiri"),
		LogLevel:                envStr("SEIRI_LOG_LEVEL", "info"),
		MCPEnabled:              envBool("SEIRI_MCP", false),
		MaxRequestBodyBytes:     int64(envInt("SEIRI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c Config) Validate() error {
	if c.RiskThresholdHigh <= 0 || c.RiskThresholdHigh > 1 {
		return fmt.Errorf("config: RISK_THRESHOLD_HIGH must be in (0,1]")
	}
	if c.RiskThresholdMedium <= 0 || c.RiskThresholdMedium >= c.RiskThresholdHigh {
		return fmt.Errorf("config: RISK_THRESHOLD_MEDIUM must be in (0, RISK_THRESHOLD_HIGH)")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: CONFIDENCE_THRESHOLD must be in (0,1]")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("config: MAX_RETRIES must be at least 1")
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("config: TIMEOUT_SECONDS must be positive")
	}
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("config: CIRCUIT_BREAKER_THRESHOLD must be at least 1")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SEIRI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
