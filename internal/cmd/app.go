package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/roombot/internal/api"
	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/backend/local"
	"github.com/Iron-Ham/roombot/internal/backend/machines"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/config"
	"github.com/Iron-Ham/roombot/internal/event"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/orchestrator"
	"github.com/Iron-Ham/roombot/internal/prompt"
	"github.com/Iron-Ham/roombot/internal/registry"
	"github.com/Iron-Ham/roombot/internal/status"
	"github.com/Iron-Ham/roombot/internal/sweeper"
)

// app is a fully wired control plane: backends, orchestrator, background
// sweep and HTTP server.
type app struct {
	cfg     *config.Config
	kind    bot.BackendKind
	logger  *logging.Logger
	events  *event.Bus
	catalog *prompt.Catalog
	orch    *orchestrator.Orchestrator
	sweeper *sweeper.Sweeper
	server  *api.Server
	http    *http.Server
}

// newApp wires the control plane from cfg. getenv supplies the worker
// environment and the required variable check.
func newApp(cfg *config.Config, getenv func(string) string, logger *logging.Logger) (*app, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	kind, err := cfg.DefaultBackend()
	if err != nil {
		return nil, err
	}
	if missing := cfg.MissingRequired(getenv); len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	catalog, err := prompt.Load(cfg.Prompts.File)
	if err != nil {
		return nil, err
	}

	env := cfg.WorkerEnv(getenv)
	adapters := []backend.Adapter{local.New(cfg.LocalBackend(env), logger)}
	if cfg.RemoteConfigured() {
		remote, err := machines.New(cfg.RemoteBackend(env), &http.Client{}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("remote backend enabled", "app", remote.App(), "env", remote.EnvKeys())
		adapters = append(adapters, remote)
	} else if kind == bot.BackendRemote {
		return nil, fmt.Errorf("%w: set %s or run with --local",
			bot.ErrBackendUnavailable, strings.Join(cfg.MissingRemoteEnv(), " and "))
	} else {
		logger.Info("remote backend disabled", "missing", cfg.MissingRemoteEnv())
	}
	set, err := backend.NewSet(adapters...)
	if err != nil {
		return nil, err
	}

	events := event.NewBus()
	events.OnPanic(func(e event.Event, recovered any, stack []byte) {
		logger.Error("event handler panicked", "event", e.EventType(), "panic", fmt.Sprint(recovered), "stack", string(stack))
	})
	events.SubscribeAll(logEvent(logger))

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:     registry.New(bot.MaxBotsPerRoom),
		Backends:     set,
		Resolver:     status.New(set, cfg.StatusResolver(), logger),
		Prompts:      catalog,
		RoomPatterns: cfg.Rooms.Allow,
		DefaultToken: cfg.Rooms.DefaultToken,
		Logger:       logger,
		Events:       events,
	})
	if err != nil {
		return nil, err
	}

	server := api.New(cfg.API(kind), orch, catalog, logger)
	return &app{
		cfg:     cfg,
		kind:    kind,
		logger:  logger,
		events:  events,
		catalog: catalog,
		orch:    orch,
		sweeper: sweeper.New(orch, cfg.Sweeper(), logger),
		server:  server,
		http: &http.Server{
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// logEvent returns an event handler that writes every event to logger,
// tagged with the bot and room it concerns.
func logEvent(logger *logging.Logger) event.Handler {
	return func(e event.Event) {
		msg := event.Describe(e)
		switch ev := e.(type) {
		case event.BotSpawnedEvent:
			logger.WithBot(ev.BotID).WithRoom(ev.RoomURL).Info(msg, "event", e.EventType(), "provisional_id", ev.ProvisionalID)
		case event.BotSpawnFailedEvent:
			logger.WithBot(ev.ProvisionalID).WithRoom(ev.RoomURL).Warn(msg, "event", e.EventType())
		case event.BotStatusChangedEvent:
			logger.WithBot(ev.BotID).WithRoom(ev.RoomURL).Info(msg, "event", e.EventType())
		case event.BotEvictedEvent:
			logger.WithBot(ev.BotID).WithRoom(ev.RoomURL).Info(msg, "event", e.EventType())
		case event.ConfigReloadedEvent:
			if ev.Err != nil {
				logger.Warn(msg, "event", e.EventType())
				return
			}
			logger.Info(msg, "event", e.EventType(), "prompts", ev.Prompts)
		default:
			logger.Info(msg, "event", e.EventType())
		}
	}
}

// serve runs the app on ln until ctx is cancelled, then shuts down within
// the configured timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	a.sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Serve(ln)
	}()
	a.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"default_backend", a.kind.String(),
		"prefix", a.cfg.Server.PathPrefix,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}
	return errors.Join(serveErr, a.shutdown())
}

// shutdown drains HTTP, stops the sweep and stops every worker.
func (a *app) shutdown() error {
	a.server.Drain()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.sweeper.Stop()
	if err := a.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}
	a.logger.Info("server stopped")
	return errors.Join(errs...)
}

// reload applies the reloadable settings of a changed config file: the
// prompt catalog and the log level. Everything else needs a restart.
func (a *app) reload(path string, cfg *config.Config, err error) {
	if err == nil {
		var catalog *prompt.Catalog
		catalog, err = prompt.Load(cfg.Prompts.File)
		if err == nil {
			a.catalog.Replace(catalog)
			a.logger.SetLevel(cfg.Logging.Level)
		}
	}
	a.events.Publish(event.NewConfigReloadedEvent(path, a.catalog.Len(), err))
}
