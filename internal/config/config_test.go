package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_URL", "ws://gateway:9090/ws")
	t.Setenv("DB_PATH", "/tmp/wisper.db")
	t.Setenv("PAIRS_PATH", "/tmp/pairs.csv")
	t.Setenv("TRANSCRIBE", "false")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Interval != 24*time.Hour {
		t.Fatalf("Interval = %v, want 24h", cfg.Interval)
	}
	if cfg.GraceWindow != 5*time.Second {
		t.Fatalf("GraceWindow = %v, want 5s", cfg.GraceWindow)
	}
	if cfg.OpsPort != "8080" {
		t.Fatalf("OpsPort = %q, want 8080", cfg.OpsPort)
	}
	if cfg.Transcribe {
		t.Fatal("Transcribe should be disabled")
	}
	if cfg.StartDate.IsZero() {
		t.Fatal("StartDate should default to now")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INTERVAL", "90s")
	t.Setenv("GRACE_WINDOW", "2s")
	t.Setenv("START_DATE", "2026-03-01T09:00:00Z")
	t.Setenv("STARTING_STATUS", "tutorial_completed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Interval != 90*time.Second {
		t.Fatalf("Interval = %v, want 90s", cfg.Interval)
	}
	if cfg.GraceWindow != 2*time.Second {
		t.Fatalf("GraceWindow = %v, want 2s", cfg.GraceWindow)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !cfg.StartDate.Equal(want) {
		t.Fatalf("StartDate = %v, want %v", cfg.StartDate, want)
	}
	if cfg.StartingStatus != "tutorial_completed" {
		t.Fatalf("StartingStatus = %q, want tutorial_completed", cfg.StartingStatus)
	}
}

func TestLoadRejectsBadStartDate(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("START_DATE", "March 1st")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with malformed START_DATE")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			GatewayURL:  "ws://gateway:9090/ws",
			DBPath:      "/tmp/wisper.db",
			PairsPath:   "/tmp/pairs.csv",
			Interval:    time.Hour,
			GraceWindow: time.Second,
			OpsPort:     "8080",
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := map[string]func(*Config){
		"missing gateway url":      func(c *Config) { c.GatewayURL = "" },
		"missing db path":          func(c *Config) { c.DBPath = "" },
		"missing pairs path":       func(c *Config) { c.PairsPath = "" },
		"zero interval":            func(c *Config) { c.Interval = 0 },
		"zero grace":               func(c *Config) { c.GraceWindow = 0 },
		"missing ops port":         func(c *Config) { c.OpsPort = "" },
		"transcribe without a key": func(c *Config) { c.Transcribe = true },
	}
	for name, mutate := range broken {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate succeeded, want error", name)
		}
	}
}
