package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Scheduler.MaxAttemptsPerStep)
	assert.Equal(t, 1, cfg.Scheduler.MaxParallel)
	assert.True(t, cfg.Scheduler.EnableRollback)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: console
scheduler:
  max_attempts_per_step: 4
  max_parallel: 8
  step_timeout: 45s
retry:
  base_delay: 500ms
breaker:
  failure_threshold: 3
store:
  driver: sqlite
  sqlite:
    path: /tmp/runs.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Scheduler.MaxAttemptsPerStep)
	assert.Equal(t, 8, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.StepTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.SQLite.Path)

	// Untouched sections keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
}

func TestLoadMissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Scheduler, cfg.Scheduler)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEPFLOW_LOG_LEVEL", "warn")
	t.Setenv("STEPFLOW_MAX_ATTEMPTS_PER_STEP", "7")
	t.Setenv("STEPFLOW_GLOBAL_TIMEOUT", "2m")
	t.Setenv("STEPFLOW_ENABLE_ROLLBACK", "false")
	t.Setenv("STEPFLOW_STORE_DRIVER", "redis")
	t.Setenv("STEPFLOW_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Scheduler.MaxAttemptsPerStep)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.GlobalTimeout)
	assert.False(t, cfg.Scheduler.EnableRollback)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("STEPFLOW_MAX_ATTEMPTS_PER_STEP", "not-a-number")
	t.Setenv("STEPFLOW_GLOBAL_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.MaxAttemptsPerStep)
	assert.Zero(t, cfg.Scheduler.GlobalTimeout)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Scheduler.MaxAttemptsPerStep = 0 },
			wantErr: "max_attempts_per_step",
		},
		{
			name:    "zero parallel",
			mutate:  func(c *Config) { c.Scheduler.MaxParallel = 0 },
			wantErr: "max_parallel",
		},
		{
			name:    "exponential base below one",
			mutate:  func(c *Config) { c.Retry.ExponentialBase = 0.5 },
			wantErr: "exponential_base",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Breaker.FailureThreshold = 0 },
			wantErr: "failure_threshold",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "cassandra" },
			wantErr: "store.driver",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("valid levels", func(t *testing.T) {
		t.Parallel()
		for _, level := range []string{"debug", "info", "warn", "error"} {
			logger, err := LogConfig{Level: level, Format: "json"}.NewLogger()
			require.NoError(t, err, "level %s", level)
			logger.Sync() //nolint:errcheck
		}
	})

	t.Run("console format", func(t *testing.T) {
		t.Parallel()
		logger, err := LogConfig{Level: "info", Format: "console"}.NewLogger()
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("bad level", func(t *testing.T) {
		t.Parallel()
		_, err := LogConfig{Level: "loud"}.NewLogger()
		assert.Error(t, err)
	})
}
