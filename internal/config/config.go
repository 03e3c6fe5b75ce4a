// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	AllowedOrigins []string

	// AgentAddr is the gRPC address of the reasoning agent service.
	// Empty disables the agent; agent-backed steps then fail hard
	// rather than falling back to a deterministic substitute.
	AgentAddr string

	// DockerEnabled wires the Docker tool adapter for deployment
	// workflow steps.
	DockerEnabled bool

	// PlanCatalogPath optionally points at a YAML file overriding the
	// built-in workflow step plans.
	PlanCatalogPath string

	Lock      LockConfig
	Retry     RetryConfig
	Sweep     SweepConfig
	Runner    RunnerConfig
	Retention time.Duration
}

// LockConfig tunes the project lock lease (expiry-based reclaim is
// fixed; the durations are policy).
type LockConfig struct {
	LeaseDuration   time.Duration
	RefreshInterval time.Duration
}

// RetryConfig tunes the step retry engine (bounded exponential backoff
// is fixed; the counts and delays are policy).
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	InvokeTimeout time.Duration
}

// SweepConfig tunes the background maintenance sweeps.
type SweepConfig struct {
	Interval time.Duration
}

// RunnerConfig tunes the background resumer that auto-advances
// autonomous sessions.
type RunnerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/testboost.db"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AgentAddr:       getEnv("AGENT_ADDR", ""),
		DockerEnabled:   getEnvBool("DOCKER_ENABLED", false),
		PlanCatalogPath: getEnv("PLAN_CATALOG_PATH", ""),
		Lock: LockConfig{
			LeaseDuration:   getEnvDuration("LOCK_LEASE_DURATION", time.Hour),
			RefreshInterval: getEnvDuration("LOCK_REFRESH_INTERVAL", 5*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:   getEnvInt("STEP_MAX_ATTEMPTS", 3),
			BaseDelay:     getEnvDuration("STEP_RETRY_BASE_DELAY", time.Second),
			MaxDelay:      getEnvDuration("STEP_RETRY_MAX_DELAY", 10*time.Second),
			InvokeTimeout: getEnvDuration("STEP_INVOKE_TIMEOUT", 5*time.Minute),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		},
		Runner: RunnerConfig{
			Enabled:  getEnvBool("RUNNER_ENABLED", true),
			Interval: getEnvDuration("RUNNER_INTERVAL", 5*time.Second),
		},
		Retention: getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Lock.LeaseDuration <= 0 {
		return fmt.Errorf("LOCK_LEASE_DURATION must be > 0")
	}
	if c.Lock.RefreshInterval <= 0 || c.Lock.RefreshInterval >= c.Lock.LeaseDuration {
		return fmt.Errorf("LOCK_REFRESH_INTERVAL must be > 0 and below the lease duration")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("STEP_MAX_ATTEMPTS must be > 0")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("step retry delays must satisfy 0 < base <= max")
	}
	if c.Retry.InvokeTimeout <= 0 {
		return fmt.Errorf("STEP_INVOKE_TIMEOUT must be > 0")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Runner.Enabled && c.Runner.Interval <= 0 {
		return fmt.Errorf("RUNNER_INTERVAL must be > 0")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
