package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	datawizard "github.com/wizardhq/datawizard"
	channelSlack "github.com/wizardhq/datawizard/channel/slack"
	channelTelegram "github.com/wizardhq/datawizard/channel/telegram"
	"github.com/wizardhq/datawizard/internal/config"
	"github.com/wizardhq/datawizard/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DataWizard server",
	Long:  "Start the DataWizard server that brokers between chat surfaces and the data-analysis agent.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	app, err := datawizard.NewBuilder().
		WithConfig(datawizard.Config{
			ServerAddr:      cfg.ServerAddr,
			DataDir:         cfg.DataDir,
			DatabasePath:    cfg.DatabasePath,
			AgentURL:        cfg.AgentURL,
			AgentTimeout:    cfg.AgentTimeout,
			SessionID:       cfg.SessionID,
			Mode:            model.Mode(cfg.Mode),
			StrictHydration: cfg.StrictHydration,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Add Slack channel if configured.
	if cfg.SlackEnabled() {
		app.AddChannel(channelSlack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, app.Session()))
		fmt.Println("Slack bot enabled (Socket Mode)")
	}

	// Add Telegram channel if configured.
	if cfg.TelegramEnabled() {
		tgBot, err := channelTelegram.NewBot(cfg.TelegramBotToken, app.Session())
		if err != nil {
			fmt.Printf("Warning: failed to initialize Telegram bot: %v\n", err)
		} else {
			app.AddChannel(tgBot)
			fmt.Println("Telegram bot enabled (long polling)")
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// loadConfigFileIntoEnv reads ~/.datawizard/config.env and sets any values
// not already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".datawizard", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
