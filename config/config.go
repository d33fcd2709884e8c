// Package config loads engine configuration.
//
// Precedence: defaults → YAML file → STEPFLOW_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Diagnosis DiagnosisConfig `yaml:"diagnosis"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// SchedulerConfig mirrors workflow.Options.
type SchedulerConfig struct {
	EnableRollback      bool          `yaml:"enable_rollback"`
	EnableCheckpoints   bool          `yaml:"enable_checkpoints"`
	MaxAttemptsPerStep  int           `yaml:"max_attempts_per_step"`
	GlobalTimeout       time.Duration `yaml:"global_timeout"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
	MaxParallel         int           `yaml:"max_parallel"`
	CheckpointInterval  int           `yaml:"checkpoint_interval"`
	ContinueOnAbandoned bool          `yaml:"continue_on_abandoned"`
}

// RetryConfig mirrors workflow.RetryPolicy.
type RetryConfig struct {
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	Jitter          bool          `yaml:"jitter"`
}

// BreakerConfig mirrors workflow.BreakerConfig.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes"`
}

// DiagnosisConfig throttles the external diagnosis collaborator.
type DiagnosisConfig struct {
	CallsPerSecond float64 `yaml:"calls_per_second"`
	Burst          int     `yaml:"burst"`
}

// StoreConfig selects and configures run persistence.
type StoreConfig struct {
	// Driver is one of memory, redis, sqlite.
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	SQLite SQLite      `yaml:"sqlite"`
}

// RedisConfig configures the Redis run store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// SQLite configures the SQLite run store.
type SQLite struct {
	Path string `yaml:"path"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			EnableRollback:     true,
			EnableCheckpoints:  true,
			MaxAttemptsPerStep: 2,
			MaxParallel:        1,
		},
		Retry: RetryConfig{
			BaseDelay:       time.Second,
			MaxDelay:        30 * time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			SuccessThreshold:  2,
			HalfOpenMaxProbes: 3,
		},
		Diagnosis: DiagnosisConfig{CallsPerSecond: 1, Burst: 2},
		Store: StoreConfig{
			Driver: "memory",
			Redis:  RedisConfig{Addr: "localhost:6379"},
			SQLite: SQLite{Path: "stepflow.db"},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "stepflow",
			ServiceVersion: "dev",
			OTLPEndpoint:   "localhost:4317",
			SampleRate:     1.0,
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from STEPFLOW_* variables.
func (c *Config) applyEnv() {
	envString("STEPFLOW_LOG_LEVEL", &c.Log.Level)
	envString("STEPFLOW_LOG_FORMAT", &c.Log.Format)
	envInt("STEPFLOW_MAX_ATTEMPTS_PER_STEP", &c.Scheduler.MaxAttemptsPerStep)
	envInt("STEPFLOW_MAX_PARALLEL", &c.Scheduler.MaxParallel)
	envDuration("STEPFLOW_GLOBAL_TIMEOUT", &c.Scheduler.GlobalTimeout)
	envDuration("STEPFLOW_STEP_TIMEOUT", &c.Scheduler.StepTimeout)
	envBool("STEPFLOW_ENABLE_ROLLBACK", &c.Scheduler.EnableRollback)
	envBool("STEPFLOW_ENABLE_CHECKPOINTS", &c.Scheduler.EnableCheckpoints)
	envDuration("STEPFLOW_RETRY_BASE_DELAY", &c.Retry.BaseDelay)
	envDuration("STEPFLOW_RETRY_MAX_DELAY", &c.Retry.MaxDelay)
	envInt("STEPFLOW_BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	envDuration("STEPFLOW_BREAKER_RECOVERY_TIMEOUT", &c.Breaker.RecoveryTimeout)
	envString("STEPFLOW_STORE_DRIVER", &c.Store.Driver)
	envString("STEPFLOW_REDIS_ADDR", &c.Store.Redis.Addr)
	envString("STEPFLOW_REDIS_PASSWORD", &c.Store.Redis.Password)
	envString("STEPFLOW_SQLITE_PATH", &c.Store.SQLite.Path)
	envBool("STEPFLOW_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envString("STEPFLOW_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.MaxAttemptsPerStep < 1 {
		return fmt.Errorf("scheduler.max_attempts_per_step must be >= 1, got %d", c.Scheduler.MaxAttemptsPerStep)
	}
	if c.Scheduler.MaxParallel < 1 {
		return fmt.Errorf("scheduler.max_parallel must be >= 1, got %d", c.Scheduler.MaxParallel)
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("retry.exponential_base must be >= 1, got %v", c.Retry.ExponentialBase)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	switch c.Store.Driver {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("store.driver must be one of memory, redis, sqlite; got %q", c.Store.Driver)
	}
	return nil
}

// NewLogger builds a zap logger from the log section.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}

	var zapCfg zap.Config
	if c.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = parsed
		}
	}
}
