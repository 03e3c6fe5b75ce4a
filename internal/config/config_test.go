package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Lock.LeaseDuration != time.Hour {
		t.Errorf("Expected default lease 1h, got %s", cfg.Lock.LeaseDuration)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default 3 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.AgentAddr != "" {
		t.Errorf("Expected agent disabled by default, got %s", cfg.AgentAddr)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOCK_LEASE_DURATION", "30m")
	t.Setenv("LOCK_REFRESH_INTERVAL", "2m")
	t.Setenv("STEP_MAX_ATTEMPTS", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DOCKER_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.Lock.LeaseDuration != 30*time.Minute {
		t.Errorf("Expected 30m lease, got %s", cfg.Lock.LeaseDuration)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Expected 2 trimmed origins, got %v", cfg.AllowedOrigins)
	}
	if !cfg.DockerEnabled {
		t.Error("Expected Docker enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"refresh above lease", "LOCK_REFRESH_INTERVAL", "2h"},
		{"zero attempts", "STEP_MAX_ATTEMPTS", "0"},
		{"max below base", "STEP_RETRY_MAX_DELAY", "1ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected Load to reject %s=%s", tt.key, tt.value)
			}
		})
	}
}
