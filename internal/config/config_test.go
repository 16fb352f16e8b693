package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RiskThresholdHigh != 0.7 || cfg.RiskThresholdMedium != 0.4 {
		t.Fatalf("unexpected default risk thresholds: %v / %v", cfg.RiskThresholdHigh, cfg.RiskThresholdMedium)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.AgentTimeout != 30*time.Second {
		t.Fatalf("expected default agent timeout 30s, got %s", cfg.AgentTimeout)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerTimeout != 60*time.Second {
		t.Fatalf("unexpected breaker defaults: %d / %s", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	if !cfg.PIIDetectionEnabled {
		t.Fatal("expected PII detection enabled by default")
	}
	if cfg.EmbeddingDimensions != 384 {
		t.Fatalf("expected default embedding dimensions 384, got %d", cfg.EmbeddingDimensions)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RISK_THRESHOLD_HIGH", "0.9")
	t.Setenv("TIMEOUT_SECONDS", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("PII_DETECTION_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RiskThresholdHigh != 0.9 {
		t.Fatalf("expected high threshold 0.9, got %v", cfg.RiskThresholdHigh)
	}
	if cfg.AgentTimeout != 5*time.Second {
		t.Fatalf("expected agent timeout 5s, got %s", cfg.AgentTimeout)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Fatalf("expected rate limit 10, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.PIIDetectionEnabled {
		t.Fatal("expected PII detection disabled")
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("MAX_RETRIES", "many")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected fallback to default 3, got %d", cfg.MaxRetries)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("RISK_THRESHOLD_HIGH", "0.3")
	t.Setenv("RISK_THRESHOLD_MEDIUM", "0.6")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail when medium threshold exceeds high")
	}
}

func TestValidateRejectsZeroRetries(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with MAX_RETRIES=0")
	}
}
