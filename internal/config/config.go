package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Hermes    HermesConfig    `yaml:"hermes"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Learning  LearningConfig  `yaml:"learning"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port               int    `yaml:"port"`
	MetricsPort        int    `yaml:"metrics_port"`
	AdminToken         string `yaml:"admin_token"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type DatabaseConfig struct {
	// URL is the Postgres DSN. Empty selects the in-memory store.
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type LLMConfig struct {
	APIKey        string `yaml:"api_key"`
	RuleModel     string `yaml:"rule_model"`
	GuidanceModel string `yaml:"guidance_model"`
	MaxTokens     int64  `yaml:"max_tokens"`
}

type LearningConfig struct {
	GraduationThreshold int `yaml:"graduation_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level name onto slog. Unknown names fall back to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               8700,
			MetricsPort:        8701,
			RateLimitPerMinute: 240,
		},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:8080/v1",
			Model:   "BAAI/bge-small-en-v1.5",
		},
		LLM: LLMConfig{
			RuleModel:     "claude-sonnet-4-5",
			GuidanceModel: "claude-haiku-4-5",
			MaxTokens:     256,
		},
		Learning: LearningConfig{
			GraduationThreshold: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Learning.GraduationThreshold <= 0 {
		return nil, fmt.Errorf("learning.graduation_threshold must be positive, got %d", cfg.Learning.GraduationThreshold)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STEWARD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("STEWARD_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("STEWARD_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("STEWARD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("STEWARD_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("STEWARD_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.AutoMigrate = b
		}
	}
	if v := os.Getenv("STEWARD_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("STEWARD_EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("STEWARD_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("STEWARD_RULE_MODEL"); v != "" {
		cfg.LLM.RuleModel = v
	}
	if v := os.Getenv("STEWARD_GUIDANCE_MODEL"); v != "" {
		cfg.LLM.GuidanceModel = v
	}
	if v := os.Getenv("STEWARD_GRADUATION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Learning.GraduationThreshold = n
		}
	}
	if v := os.Getenv("STEWARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
