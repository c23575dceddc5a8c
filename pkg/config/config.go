package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all FitForge gateway configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	DBPath      string            `yaml:"db_path"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Cache       CacheConfig       `yaml:"cache"`
	ClientCache ClientCacheConfig `yaml:"client_cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Retry       RetryConfig       `yaml:"retry"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Fallback    FallbackConfig    `yaml:"fallback"`
}

// UpstreamConfig defines the third-party research API.
type UpstreamConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// CacheConfig controls the server-side response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// ClientCacheConfig controls the in-process session cache used by
// embedded clients.
type ClientCacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// RateLimitConfig seeds the persisted fixed-window limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerDay    int  `yaml:"requests_per_day"`
}

// RetryConfig controls the orchestrator's retry loop.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// AnalyticsConfig controls the research call ledger.
type AnalyticsConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// FallbackConfig controls the canned degrade response handed to callers
// when retries are exhausted. Fallback text is never cached.
type FallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "fitforge.db",
		Upstream: UpstreamConfig{
			URL:         "https://api.perplexity.ai",
			Model:       "sonar-medium-chat",
			Timeout:     60 * time.Second,
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     7 * 24 * time.Hour,
		},
		ClientCache: ClientCacheConfig{
			TTL:        24 * time.Hour,
			MaxEntries: 50,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 10,
			RequestsPerDay:    500,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		Fallback: FallbackConfig{
			Enabled: false,
			Message: "Research is temporarily unavailable. Please try again in a few minutes.",
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file in the working directory is loaded first, if present, so secrets like
// the upstream API key can live outside the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
