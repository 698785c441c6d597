package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var stewardEnv = []string{
	"STEWARD_PORT", "STEWARD_METRICS_PORT", "STEWARD_ADMIN_TOKEN", "STEWARD_RATE_LIMIT",
	"STEWARD_DATABASE_URL", "STEWARD_AUTO_MIGRATE", "STEWARD_HERMES_URL",
	"STEWARD_EMBEDDING_URL", "STEWARD_EMBEDDING_MODEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	"STEWARD_RULE_MODEL", "STEWARD_GUIDANCE_MODEL", "STEWARD_GRADUATION_THRESHOLD", "STEWARD_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range stewardEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8700 {
		t.Errorf("expected port 8700, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected metrics port 8701, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.RateLimitPerMinute != 240 {
		t.Errorf("expected rate limit 240, got %d", cfg.Server.RateLimitPerMinute)
	}
	if cfg.Database.URL != "" {
		t.Errorf("expected empty database URL, got %s", cfg.Database.URL)
	}
	if !cfg.Database.AutoMigrate {
		t.Error("expected auto_migrate enabled by default")
	}
	if cfg.Hermes.URL != "nats://localhost:4222" {
		t.Errorf("expected nats URL, got %s", cfg.Hermes.URL)
	}
	if cfg.Embedding.Model != "BAAI/bge-small-en-v1.5" {
		t.Errorf("expected default embedding model, got %s", cfg.Embedding.Model)
	}
	if cfg.LLM.APIKey != "" {
		t.Error("expected no LLM key by default")
	}
	if cfg.LLM.RuleModel == cfg.LLM.GuidanceModel {
		t.Error("expected guidance model to differ from rule model")
	}
	if cfg.Learning.GraduationThreshold != 10 {
		t.Errorf("expected graduation threshold 10, got %d", cfg.Learning.GraduationThreshold)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got '%s'", cfg.Logging.Format)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEWARD_PORT", "9000")
	t.Setenv("STEWARD_METRICS_PORT", "9001")
	t.Setenv("STEWARD_ADMIN_TOKEN", "secret-token")
	t.Setenv("STEWARD_DATABASE_URL", "postgres://localhost/steward_test")
	t.Setenv("STEWARD_AUTO_MIGRATE", "false")
	t.Setenv("STEWARD_HERMES_URL", "nats://nats:4222")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("STEWARD_GUIDANCE_MODEL", "small-model")
	t.Setenv("STEWARD_GRADUATION_THRESHOLD", "5")
	t.Setenv("STEWARD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 9001 {
		t.Errorf("expected metrics port 9001, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.AdminToken != "secret-token" {
		t.Errorf("expected admin token 'secret-token', got '%s'", cfg.Server.AdminToken)
	}
	if cfg.Database.URL != "postgres://localhost/steward_test" {
		t.Errorf("expected database URL, got '%s'", cfg.Database.URL)
	}
	if cfg.Database.AutoMigrate {
		t.Error("expected auto_migrate disabled")
	}
	if cfg.Hermes.URL != "nats://nats:4222" {
		t.Errorf("expected hermes URL, got '%s'", cfg.Hermes.URL)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected LLM key from env, got '%s'", cfg.LLM.APIKey)
	}
	if cfg.LLM.GuidanceModel != "small-model" {
		t.Errorf("expected guidance model override, got '%s'", cfg.LLM.GuidanceModel)
	}
	if cfg.Learning.GraduationThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.Learning.GraduationThreshold)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.Logging.SlogLevel())
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "steward.yaml")
	data := []byte(`
server:
  port: 7000
learning:
  graduation_threshold: 3
logging:
  level: warn
  format: text
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("expected port 7000, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected default metrics port to survive partial file, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Learning.GraduationThreshold != 3 {
		t.Errorf("expected threshold 3, got %d", cfg.Learning.GraduationThreshold)
	}
	if cfg.Logging.SlogLevel() != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", cfg.Logging.SlogLevel())
	}
}

func TestLoadRejectsInvalidLearningConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEWARD_GRADUATION_THRESHOLD", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero graduation threshold")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
