// Package datawizard is the top-level entry point for the DataWizard
// conversation orchestrator.
//
// Use the Builder to compose a custom DataWizard application:
//
//	app, err := datawizard.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := datawizard.NewBuilder().
//	    WithBackend(myAgentClient).
//	    WithStore(myTurnStore).
//	    WithChannel(myChannel).
//	    Build()
package datawizard

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/wizardhq/datawizard/backend"
	"github.com/wizardhq/datawizard/channel"
	"github.com/wizardhq/datawizard/httpapi"
	"github.com/wizardhq/datawizard/model"
	"github.com/wizardhq/datawizard/session"
	"github.com/wizardhq/datawizard/store"
)

// Config holds top-level configuration for a DataWizard application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.datawizard").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// AgentURL is the base URL of the data-analysis agent
	// (default "http://localhost:8000").
	AgentURL string

	// AgentTimeout bounds a single agent request (default 120s).
	AgentTimeout time.Duration

	// SessionID scopes the persisted conversation snapshot (default "default").
	SessionID string

	// Mode is the initial interaction mode (default planning).
	Mode model.Mode

	// StrictHydration withholds dataset readiness after a restart until the
	// user uploads again.
	StrictHydration bool
}

// Builder constructs a DataWizard App.
type Builder struct {
	config   Config
	backend  backend.Client
	store    store.TurnStore
	channels []channel.Runner
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBackend sets the agent client implementation.
func (b *Builder) WithBackend(bc backend.Client) *Builder {
	b.backend = bc
	return b
}

// WithStore sets the turn store implementation.
func (b *Builder) WithStore(s store.TurnStore) *Builder {
	b.store = s
	return b
}

// WithChannel adds a channel (Slack, Telegram, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Runner) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	sess := session.New(
		session.Config{
			SessionID:       b.config.SessionID,
			Mode:            b.config.Mode,
			StrictHydration: b.config.StrictHydration,
		},
		b.backend,
		b.store,
	)

	handler := httpapi.New(sess)

	return &App{
		config:   b.config,
		session:  sess,
		store:    b.store,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running DataWizard application.
type App struct {
	config   Config
	session  *session.Orchestrator
	store    store.TurnStore
	handler  *httpapi.Handler
	channels []channel.Runner
}

// Session returns the underlying orchestrator for direct access.
func (a *App) Session() *session.Orchestrator { return a.session }

// AddChannel registers a channel on a built App. Must be called before Start.
func (a *App) AddChannel(ch channel.Runner) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.session.Hydrate()

	// Start channels.
	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("DataWizard server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return a.store.Close()
}
