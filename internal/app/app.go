// Package app provides the top-level application lifecycle for the trading
// back office. It wires together all dependencies (stores, session pool,
// fan-out engine, supervisor, event bus, notifications), registers the
// background jobs, and runs the HTTP server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traderops/backoffice/internal/config"
	"github.com/traderops/backoffice/internal/scheduler"
	"github.com/traderops/backoffice/internal/server"
	"github.com/traderops/backoffice/internal/server/handler"
	"github.com/traderops/backoffice/internal/server/ws"
)

const (
	// sweepInterval drives the periodic session expiry sweep.
	sweepInterval = 5 * time.Minute

	// heartbeatInterval drives the dashboard heartbeat event.
	heartbeatInterval = 30 * time.Second

	// archiveInterval drives the cold-storage export job.
	archiveInterval = 24 * time.Hour

	// shutdownTimeout bounds the graceful HTTP drain on exit.
	shutdownTimeout = 10 * time.Second
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, warms the session
// pool, starts the scheduler and the HTTP server, and blocks until the context
// is cancelled. On return the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now().UTC()

	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Rebuild the in-memory session cache from surviving rows so a restart
	// does not force a mass re-login.
	if err := deps.Pool.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "session pool warm failed",
			slog.String("error", err.Error()),
		)
	}

	// --- Background jobs ---
	sched := scheduler.New(a.logger, scheduler.WithSystemLog(deps.Syslog))

	sched.Register(scheduler.Job{
		Name:     "session_refresh",
		Interval: time.Duration(a.cfg.Session.RefreshIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			result, err := deps.Pool.RefreshAll(ctx)
			if err != nil {
				return err
			}
			deps.Events.PublishSessionUpdate(ctx, refreshEventPayload(result))
			return nil
		},
	})

	sched.Register(scheduler.Job{
		Name:     "session_sweep",
		Interval: sweepInterval,
		Run: func(ctx context.Context) error {
			result, err := deps.Pool.Sweep(ctx)
			if err != nil {
				return err
			}
			deps.Events.PublishSessionUpdate(ctx, sweepEventPayload(result))
			return nil
		},
	})

	sched.Register(scheduler.Job{
		Name:     "position_supervisor",
		Interval: deps.Supervisor.Interval(),
		Run: func(ctx context.Context) error {
			_, err := deps.Supervisor.Tick(ctx)
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:     "heartbeat",
		Interval: heartbeatInterval,
		Run: func(ctx context.Context) error {
			deps.Events.PublishHeartbeat(ctx, map[string]any{
				"active_sessions": deps.Pool.Size(),
				"uptime_seconds":  int64(time.Since(startedAt).Seconds()),
			})
			return nil
		},
	})

	if deps.Archiver != nil {
		archiveAfter := time.Duration(a.cfg.S3.ArchiveAfterDays) * 24 * time.Hour
		sched.Register(scheduler.Job{
			Name:     "archive",
			Interval: archiveInterval,
			Run: func(ctx context.Context) error {
				_, err := deps.Archiver.ArchiveAll(ctx, time.Now().UTC().Add(-archiveAfter))
				return err
			},
		})
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("app: scheduler: %w", err)
	}
	a.closers = append(a.closers, sched.Stop)

	// --- HTTP + WebSocket server ---
	srv := a.buildServer(deps, startedAt)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: server: %w", err)
		}
		return nil
	}
}

// buildServer assembles the handlers, WebSocket transport, and middleware
// configuration into a runnable Server.
func (a *App) buildServer(deps *Dependencies, startedAt time.Time) *server.Server {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pool, startedAt, a.logger),
		Sessions: handler.NewSessionHandler(deps.Pool, deps.Sessions, a.logger),
		Trading:  handler.NewTradingHandler(deps.Engine, deps.Orders, deps.Trades, a.logger),
	}

	wsHandler := ws.NewHandler(deps.Events, a.logger)

	return server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimitPerMinute,
		RateLimitWindow: time.Minute,
	}, handlers, wsHandler, deps.RateLimiter, a.logger)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
