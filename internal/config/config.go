// Package config provides configuration management for DataWizard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the DataWizard server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// AgentURL is the base URL of the data-analysis agent.
	AgentURL string

	// AgentTimeout bounds a single agent request. Analysis turns can be
	// slow; keep this generous.
	AgentTimeout time.Duration

	// SessionID scopes the persisted conversation snapshot.
	SessionID string

	// Mode is the initial interaction mode ("planning" or "fast").
	Mode string

	// StrictHydration withholds dataset readiness after a restart until
	// the user uploads again.
	StrictHydration bool

	// Slack integration (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string

	// Telegram integration (optional -- long polling, no public URL needed).
	// TelegramBotToken is the token from @BotFather.
	TelegramBotToken string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("DATAWIZ_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:       envOr("DATAWIZ_ADDR", ":7080"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "datawizard.db"),
		AgentURL:         envOr("DATAWIZ_AGENT_URL", "http://localhost:8000"),
		AgentTimeout:     envOrDuration("DATAWIZ_AGENT_TIMEOUT", 120*time.Second),
		SessionID:        envOr("DATAWIZ_SESSION_ID", "default"),
		Mode:             envOr("DATAWIZ_MODE", "planning"),
		StrictHydration:  envOrBool("DATAWIZ_STRICT_HYDRATION", false),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:    os.Getenv("SLACK_APP_TOKEN"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AgentURL == "" {
		return fmt.Errorf("DATAWIZ_AGENT_URL is required")
	}
	if c.Mode != "planning" && c.Mode != "fast" {
		return fmt.Errorf("DATAWIZ_MODE must be 'planning' or 'fast', got %q", c.Mode)
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datawizard"
	}
	return filepath.Join(home, ".datawizard")
}
