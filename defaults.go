package datawizard

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/wizardhq/datawizard/backend/agenthttp"
	"github.com/wizardhq/datawizard/model"
	sqliteStore "github.com/wizardhq/datawizard/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "datawizard.db")
	}
	if b.config.AgentURL == "" {
		b.config.AgentURL = "http://localhost:8000"
	}
	if b.config.AgentTimeout == 0 {
		b.config.AgentTimeout = 120 * time.Second
	}
	if b.config.SessionID == "" {
		b.config.SessionID = "default"
	}
	if b.config.Mode == "" {
		b.config.Mode = model.ModePlanning
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Agent client.
	if b.backend == nil {
		b.backend = agenthttp.New(b.config.AgentURL,
			agenthttp.WithHTTPClient(&http.Client{Timeout: b.config.AgentTimeout}))
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datawizard"
	}
	return filepath.Join(home, ".datawizard")
}
