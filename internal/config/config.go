package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Run modes for the pipeline worker.
const (
	ModeCodex  = "codex"  // invoke the rewrite agent during processing
	ModeManual = "manual" // skip the transform step entirely
)

// Config holds all configuration for the worksheet pipeline.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Runtime  RuntimeConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type StorageConfig struct {
	Root string
}

type PipelineConfig struct {
	Mode             string
	StaleThreshold   time.Duration
	RetryEnabled     bool
	MaxAttempts      int
	ExtractTimeout   time.Duration
	RewriteTimeout   time.Duration
	InstallTimeout   time.Duration
	BuildTimeout     time.Duration
	CodexBin         string
	InstructionsPath string
}

type RuntimeConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	EndpointPath string
	Timeout      time.Duration
}

type RedisConfig struct {
	URL string // optional; empty disables the status cache and rate limiter
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns a descriptive error if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("WS_PORT", 8080),
			Env:             envString("WS_ENV", "development"),
			RateLimitPerMin: envInt("WS_RATE_LIMIT_PER_MIN", 60),
		},
		Storage: StorageConfig{
			Root: os.Getenv("WS_STORAGE_ROOT"),
		},
		Pipeline: PipelineConfig{
			Mode:             envString("WS_RUN_MODE", ModeCodex),
			StaleThreshold:   envMillis("WS_STALE_THRESHOLD_MS", 20*time.Minute),
			RetryEnabled:     envBool("WS_RETRY_ENABLED", true),
			MaxAttempts:      envInt("WS_MAX_ATTEMPTS", 4),
			ExtractTimeout:   envMillis("WS_EXTRACT_TIMEOUT_MS", 2*time.Minute),
			RewriteTimeout:   envMillis("WS_REWRITE_TIMEOUT_MS", 10*time.Minute),
			InstallTimeout:   envMillis("WS_INSTALL_TIMEOUT_MS", 5*time.Minute),
			BuildTimeout:     envMillis("WS_BUILD_TIMEOUT_MS", 5*time.Minute),
			CodexBin:         envString("WS_CODEX_BIN", "codex"),
			InstructionsPath: os.Getenv("WS_REWRITE_INSTRUCTIONS"),
		},
		Runtime: RuntimeConfig{
			BaseURL:      os.Getenv("RUNTIME_BASE_URL"),
			APIKey:       os.Getenv("RUNTIME_API_KEY"),
			Model:        envString("RUNTIME_MODEL", "gpt-4.1-mini"),
			EndpointPath: envString("RUNTIME_ENDPOINT_PATH", "/api/llm/v1/chat/completions"),
			Timeout:      envMillis("RUNTIME_TIMEOUT_MS", 30*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("WS_STORAGE_ROOT is required")
	}

	if c.Pipeline.Mode != ModeCodex && c.Pipeline.Mode != ModeManual {
		return fmt.Errorf("WS_RUN_MODE must be %q or %q, got %q", ModeCodex, ModeManual, c.Pipeline.Mode)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("WS_MAX_ATTEMPTS must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}

	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("RUNTIME_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Runtime.BaseURL, "http://") && !strings.HasPrefix(c.Runtime.BaseURL, "https://") {
		return fmt.Errorf("RUNTIME_BASE_URL must start with http:// or https://, got %q", c.Runtime.BaseURL)
	}
	if c.Runtime.APIKey == "" {
		return fmt.Errorf("RUNTIME_API_KEY is required")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
