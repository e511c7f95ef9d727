package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SessionHours != 8 {
		t.Errorf("SessionHours = %d, want 8", cfg.SessionHours)
	}
	if cfg.SessionSweepInterval != 15*time.Minute {
		t.Errorf("SessionSweepInterval = %v, want 15m", cfg.SessionSweepInterval)
	}
	if cfg.ServerPort == "" {
		t.Error("ServerPort is empty")
	}
}

func TestLoadConfigSweepIntervalGuard(t *testing.T) {
	t.Setenv("T4Z_SESSION_SWEEP_INTERVAL", "0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SessionSweepInterval != 15*time.Minute {
		t.Errorf("SessionSweepInterval = %v, want fallback 15m", cfg.SessionSweepInterval)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("T4Z_SESSION_SWEEP_INTERVAL", "5m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SessionSweepInterval != 5*time.Minute {
		t.Errorf("SessionSweepInterval = %v, want 5m", cfg.SessionSweepInterval)
	}
}
