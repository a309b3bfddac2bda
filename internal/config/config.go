// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	GatewayURL   string
	GatewayToken string

	DBPath    string
	PairsPath string
	MediaDir  string

	// TutorialDir holds the pre-recorded tutorial stories, sent in
	// lexical order. ContentDir holds static script assets such as the
	// value-tension illustration.
	TutorialDir string
	ContentDir  string

	// StartDate anchors week 1 of the exchange for sessions created
	// before the pair's own baseline is known. Interval is the length of
	// one scripted "day" (shortened in test deployments).
	StartDate time.Time
	Interval  time.Duration

	// GraceWindow is how far past its target time a scheduled send may
	// still be delivered on startup reconciliation before being dropped.
	GraceWindow time.Duration

	// SendRetryDelay is the fixed pause between retries of a timed-out
	// transport send.
	SendRetryDelay time.Duration

	Transcribe       bool
	TranscribeURL    string
	TranscribeAPIKey string
	TranscribeModel  string

	OpsPort string

	// StartingStatus optionally fast-forwards new sessions to a given
	// status, for testing scripted phases without replaying the journey.
	StartingStatus string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		GatewayURL:       getEnv("GATEWAY_URL", "ws://localhost:9090/ws"),
		GatewayToken:     getEnv("GATEWAY_TOKEN", ""),
		DBPath:           getEnv("DB_PATH", "./data/wisper.db"),
		PairsPath:        getEnv("PAIRS_PATH", "./user_pairs.csv"),
		MediaDir:         getEnv("MEDIA_DIR", "./data/media"),
		TutorialDir:      getEnv("TUTORIAL_DIR", "./tutorialstories"),
		ContentDir:       getEnv("CONTENT_DIR", "./content"),
		Interval:         getEnvDuration("INTERVAL", 24*time.Hour),
		GraceWindow:      getEnvDuration("GRACE_WINDOW", 5*time.Second),
		SendRetryDelay:   getEnvDuration("SEND_RETRY_DELAY", 5*time.Second),
		Transcribe:       getEnvBool("TRANSCRIBE", true),
		TranscribeURL:    getEnv("TRANSCRIBE_URL", "https://api.openai.com/v1/audio/transcriptions"),
		TranscribeAPIKey: getEnv("TRANSCRIBE_API_KEY", ""),
		TranscribeModel:  getEnv("TRANSCRIBE_MODEL", "whisper-1"),
		OpsPort:          getEnv("OPS_PORT", "8080"),
		StartingStatus:   getEnv("STARTING_STATUS", ""),
	}

	if raw := os.Getenv("START_DATE"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid START_DATE %q (want RFC3339): %w", raw, err)
		}
		cfg.StartDate = t
	} else {
		cfg.StartDate = time.Now()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.PairsPath == "" {
		return fmt.Errorf("PAIRS_PATH cannot be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("INTERVAL must be > 0")
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("GRACE_WINDOW must be > 0")
	}
	if c.Transcribe && c.TranscribeAPIKey == "" {
		return fmt.Errorf("TRANSCRIBE_API_KEY required when TRANSCRIBE is enabled")
	}
	if c.OpsPort == "" {
		return fmt.Errorf("OPS_PORT cannot be empty")
	}
	return nil
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
