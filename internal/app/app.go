package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"liahona/internal/config"
	"liahona/internal/db"
	"liahona/internal/engine"
	"liahona/internal/migrate"
	"liahona/internal/observability"
	"liahona/internal/realtime"
	"liahona/internal/repo"
	"liahona/internal/server"
	"liahona/internal/sweeper"
)

// Options selects the workspace and database an App opens.
type Options struct {
	Workspace   string
	DatabaseURL string
	Logger      *slog.Logger
	// Now overrides the engine clock; tests pin it.
	Now func() time.Time
}

// App wires storage, the engine and the background workers for one workspace.
type App struct {
	Conn       *db.Conn
	Config     *config.Config
	Engine     engine.Engine
	Metrics    *observability.Metrics
	Bus        *realtime.Bus
	Dispatcher *realtime.Dispatcher
	Sweeper    *sweeper.Sweeper
	Webhooks   *server.WebhookForwarder
	Logger     *slog.Logger

	wg sync.WaitGroup
}

// Open connects to the database, applies migrations and loads liahona.yml,
// falling back to the defaults when the workspace has none.
func Open(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOrDefault(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, URL: opts.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	metrics := observability.NewMetrics("liahona")
	bus := realtime.NewBus(cfg.Realtime.QueueSize)
	bus.Metrics = metrics
	dispatcher := realtime.NewDispatcher(bus, cfg.Realtime.DispatchBuffer)
	dispatcher.Metrics = metrics
	dispatcher.Logger = logger

	e := engine.New(repo.NewStore(conn), cfg)
	e.Publisher = dispatcher
	e.Metrics = metrics
	e.Logger = logger
	if opts.Now != nil {
		e.Now = opts.Now
	}

	a := &App{
		Conn:       conn,
		Config:     cfg,
		Engine:     e,
		Metrics:    metrics,
		Bus:        bus,
		Dispatcher: dispatcher,
		Sweeper:    sweeper.New(e, cfg.SweepInterval()),
		Logger:     logger,
	}
	if len(cfg.Webhooks) > 0 {
		a.Webhooks = server.NewWebhookForwarder(bus, cfg.Webhooks, metrics, logger)
	}
	return a, nil
}

// Start launches the dispatcher, the sweeper and the webhook forwarder. They
// stop when ctx is done; Wait blocks until they have.
func (a *App) Start(ctx context.Context) {
	a.spawn(func() { a.Dispatcher.Run(ctx) })
	a.spawn(func() { a.Sweeper.Run(ctx) })
	if a.Webhooks != nil {
		a.Logger.Info("webhook forwarding enabled", "hooks", a.Webhooks.Hooks())
		a.spawn(func() { a.Webhooks.Run(ctx) })
	}
}

func (a *App) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) Wait() {
	a.wg.Wait()
}

// Handler builds the HTTP API over this app's engine and bus.
func (a *App) Handler(basePath string, auth server.AuthConfig) (http.Handler, error) {
	if auth.Logger == nil {
		auth.Logger = a.Logger
	}
	return server.New(server.Config{
		Engine:       a.Engine,
		BasePath:     basePath,
		Auth:         auth,
		Bus:          a.Bus,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
		WriteTimeout: a.Config.WriteTimeout(),
	})
}

func (a *App) Close() error {
	return a.Conn.Close()
}
