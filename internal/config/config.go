package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	LLMProvider      string `mapstructure:"LLM_PROVIDER"`
	PerplexityAPIKey string `mapstructure:"PERPLEXITY_API_KEY"`
	PerplexityURL    string `mapstructure:"PERPLEXITY_URL"`

	CaseIndexPath string `mapstructure:"CASE_INDEX_PATH"`
	KGPath        string `mapstructure:"KG_PATH"`

	WorkerCount    int `mapstructure:"WORKER_COUNT"`
	QueueSize      int `mapstructure:"QUEUE_SIZE"`
	MaxAttempts    int `mapstructure:"MAX_ATTEMPTS"`
	RetryBaseMs    int `mapstructure:"RETRY_BASE_MS"`
	StageTimeoutMs int `mapstructure:"STAGE_TIMEOUT_MS"`

	KGMaxDepth     int  `mapstructure:"KG_MAX_DEPTH"`
	PromptMaxCases int  `mapstructure:"PROMPT_MAX_CASES"`
	PromptMaxFacts int  `mapstructure:"PROMPT_MAX_FACTS"`
	ExposeDegraded bool `mapstructure:"EXPOSE_DEGRADED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("LLM_PROVIDER", "offline")
	v.SetDefault("PERPLEXITY_URL", "https://api.perplexity.ai/chat/completions")
	v.SetDefault("CASE_INDEX_PATH", "data/cases.json")
	v.SetDefault("KG_PATH", "data/graph.yaml")
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("QUEUE_SIZE", 64)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_MS", 500)
	v.SetDefault("STAGE_TIMEOUT_MS", 15000)
	v.SetDefault("KG_MAX_DEPTH", 2)
	v.SetDefault("PROMPT_MAX_CASES", 3)
	v.SetDefault("PROMPT_MAX_FACTS", 5)
	v.SetDefault("EXPOSE_DEGRADED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "DATABASE_URL", "MIGRATIONS_PATH",
		"LLM_PROVIDER", "PERPLEXITY_API_KEY", "PERPLEXITY_URL",
		"CASE_INDEX_PATH", "KG_PATH",
		"WORKER_COUNT", "QUEUE_SIZE", "MAX_ATTEMPTS", "RETRY_BASE_MS", "STAGE_TIMEOUT_MS",
		"KG_MAX_DEPTH", "PROMPT_MAX_CASES", "PROMPT_MAX_FACTS", "EXPOSE_DEGRADED",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	switch c.LLMProvider {
	case "offline":
	case "perplexity":
		if c.PerplexityAPIKey == "" {
			return fmt.Errorf("PERPLEXITY_API_KEY is required when LLM_PROVIDER is %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"offline\" or \"perplexity\", got %q", c.LLMProvider)
	}
	return nil
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}
