// Package app provides the top-level application lifecycle for the arbitrage
// engine. It wires all dependencies (stores, caches, blob storage, venues,
// the loan provider, the pipeline services and notifications) and starts the
// goroutines the configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/config"
)

// App is the root application object. It owns the configuration store, the
// logger, and a list of cleanup functions that are called in reverse order
// on shutdown.
type App struct {
	store   *config.Store
	logger  *slog.Logger
	closers []func()
	started time.Time
}

// New creates a new App over the given configuration store.
func New(store *config.Store, logger *slog.Logger) *App {
	return &App{
		store:   store,
		logger:  logger.With(slog.String("component", "app")),
		started: time.Now(),
	}
}

// cfg returns the active configuration snapshot.
func (a *App) cfg() *config.Config { return a.store.Current() }

// Run is the main entry point. It wires all dependencies, builds the engine,
// subscribes it to config reloads, and blocks in the selected mode until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg()
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", cfg.Mode),
		slog.String("log_level", cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	engine, err := BuildEngine(ctx, cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build engine: %w", err)
	}
	a.store.OnReload(func(next *config.Config) {
		engine.Apply(next)
		a.applyLimits(ctx, next)
	})

	switch strings.ToLower(cfg.Mode) {
	case "scan":
		return a.ScanMode(ctx, deps, engine)
	case "paper":
		return a.PaperMode(ctx, deps, engine)
	case "trade":
		return a.TradeMode(ctx, deps, engine)
	case "server":
		return a.ServerMode(ctx, deps, engine)
	case "full":
		return a.FullMode(ctx, deps, engine)
	default:
		return fmt.Errorf("app: unsupported mode %q", cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application", slog.String("uptime", sinceStart(a.started)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
