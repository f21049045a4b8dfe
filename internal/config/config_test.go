package config_test

import (
	"testing"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv is a helper that sets environment variables for a test and restores them after.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

// validEnv returns the minimum set of valid environment variables.
func validEnv() map[string]string {
	return map[string]string{
		"WS_STORAGE_ROOT":  "/var/lib/worksheets",
		"RUNTIME_BASE_URL": "http://localhost:8000",
		"RUNTIME_API_KEY":  "rt-test-key",
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setEnv(t, validEnv())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "/var/lib/worksheets", cfg.Storage.Root)
	assert.Equal(t, config.ModeCodex, cfg.Pipeline.Mode)
	assert.Equal(t, 20*time.Minute, cfg.Pipeline.StaleThreshold)
	assert.True(t, cfg.Pipeline.RetryEnabled)
	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "gpt-4.1-mini", cfg.Runtime.Model)
	assert.Equal(t, "/api/llm/v1/chat/completions", cfg.Runtime.EndpointPath)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoad_CustomKnobs(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("WS_PORT", "9090")
	t.Setenv("WS_RUN_MODE", "manual")
	t.Setenv("WS_STALE_THRESHOLD_MS", "60000")
	t.Setenv("WS_RETRY_ENABLED", "false")
	t.Setenv("WS_MAX_ATTEMPTS", "2")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.ModeManual, cfg.Pipeline.Mode)
	assert.Equal(t, time.Minute, cfg.Pipeline.StaleThreshold)
	assert.False(t, cfg.Pipeline.RetryEnabled)
	assert.Equal(t, 2, cfg.Pipeline.MaxAttempts)
}

func TestLoad_MissingStorageRoot(t *testing.T) {
	env := validEnv()
	delete(env, "WS_STORAGE_ROOT")
	setEnv(t, env)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_STORAGE_ROOT")
}

func TestLoad_InvalidRunMode(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("WS_RUN_MODE", "turbo")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_RUN_MODE")
}

func TestLoad_MissingRuntimeBaseURL(t *testing.T) {
	env := validEnv()
	delete(env, "RUNTIME_BASE_URL")
	setEnv(t, env)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNTIME_BASE_URL")
}

func TestLoad_RuntimeBaseURLMustStartWithHTTP(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("RUNTIME_BASE_URL", "ftp://localhost:8000")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNTIME_BASE_URL")
}

func TestLoad_MissingRuntimeAPIKey(t *testing.T) {
	env := validEnv()
	delete(env, "RUNTIME_API_KEY")
	setEnv(t, env)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNTIME_API_KEY")
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("WS_MAX_ATTEMPTS", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_MAX_ATTEMPTS")
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("WS_PORT", "not-a-number")
	t.Setenv("WS_STALE_THRESHOLD_MS", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20*time.Minute, cfg.Pipeline.StaleThreshold)
}
