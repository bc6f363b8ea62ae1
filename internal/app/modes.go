package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/sim"
	"github.com/alanyoungcy/flasharb/internal/sink"
)

const housekeepingInterval = 10 * time.Second

// ScanMode discovers and publishes opportunities without submitting units.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies, e *Engine) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, deps, e)
	a.maybeServe(ctx, g, deps, e)
	return g.Wait()
}

// PaperMode runs the full pipeline against in-process venues and the
// simulated ledger, with books drifting around their seeded mids.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies, e *Engine) error {
	a.logger.InfoContext(ctx, "starting paper mode", slog.Int("sim_venues", len(e.SimVenues)))

	g, ctx := errgroup.WithContext(ctx)
	a.recover(ctx, e)
	a.startPipeline(ctx, g, deps, e)
	g.Go(func() error {
		sim.Drift(ctx, a.cfg().Scanner.PollInterval.Duration, simDriftBps, e.SimVenues...)
		return nil
	})
	a.maybeServe(ctx, g, deps, e)
	return g.Wait()
}

// TradeMode runs the pipeline against live venues and the configured loan
// provider.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, e *Engine) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("auto_execute", a.cfg().Execution.AutoExecute),
	)
	if !a.cfg().Execution.AutoExecute {
		a.logger.InfoContext(ctx, "execution.auto_execute is false; engine will scan and publish opportunities only")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.recover(ctx, e)
	a.startPipeline(ctx, g, deps, e)
	a.maybeServe(ctx, g, deps, e)
	return g.Wait()
}

// ServerMode serves the read API and metrics over the shared stores without
// running a pipeline of its own.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, e *Engine) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHousekeeping(ctx, g, e)
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

// FullMode is TradeMode plus the archiver and an always-on HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, e *Engine) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.recover(ctx, e)
	a.startPipeline(ctx, g, deps, e)
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

// recover settles or aborts units left open by a previous process before any
// new unit is started.
func (a *App) recover(ctx context.Context, e *Engine) {
	cfg := a.cfg()
	if !cfg.Execution.RecoverOnStartup || !cfg.Executes() {
		return
	}
	report, err := e.Coordinator.Recover(ctx, e.Provider)
	if err != nil {
		a.logger.ErrorContext(ctx, "startup recovery failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "startup recovery complete",
		slog.Int("settled", report.Settled),
		slog.Int("aborted", report.Aborted),
		slog.Int("skipped", report.Skipped),
	)
}

// startPipeline launches the scan loop, price marking, venue feeds, the
// archiver and housekeeping.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *Engine) {
	cfg := a.cfg()

	g.Go(func() error {
		return e.Arb.Run(ctx, cfg.Scanner.PollInterval.Duration)
	})
	g.Go(func() error {
		return e.Prices.Run(ctx, cfg.Scanner.PollInterval.Duration)
	})

	for _, feed := range e.Feeds {
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, cfg.Sink.ArchiveInterval.Duration, cfg.Sink.ArchiveRetention.Duration)
		})
	}

	a.startHousekeeping(ctx, g, e)
}

// startHousekeeping expires dedup keys and refreshes the derived gauges.
func (a *App) startHousekeeping(ctx context.Context, g *errgroup.Group, e *Engine) {
	g.Go(func() error {
		ticker := time.NewTicker(housekeepingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				e.Coordinator.Dedup().Cleanup()
				e.Observe()
				a.logger.DebugContext(ctx, "housekeeping",
					slog.Int("dedup_keys", e.Coordinator.Dedup().Len()),
					slog.Int("in_flight", e.InFlight.Active()),
					slog.Int("running", e.Arb.Running()),
					slog.String("uptime", sinceStart(a.started)),
				)
			}
		}
	})
}

func (a *App) maybeServe(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *Engine) {
	if a.cfg().Server.Enabled {
		a.startHTTPServer(ctx, g, deps, e)
	}
}

// startHTTPServer mounts the read API. Reads come from Postgres when it is
// wired and from the in-memory event ring otherwise.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *Engine) {
	cfg := a.cfg()

	var opps handler.OpportunityReader = sink.RecentOpportunities{M: e.Memory}
	if deps.OpportunityStore != nil {
		opps = deps.OpportunityStore
	}
	var execs handler.ExecutionReader = sink.RecentExecutions{M: e.Memory}
	if deps.ExecutionStore != nil {
		execs = deps.ExecutionStore
	}

	var events *handler.EventHandler
	if deps.SignalBus != nil && cfg.Sink.Stream != "" {
		events = handler.NewEventHandler(deps.SignalBus, cfg.Sink.Stream, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.AuthToken,
		RateLimit:   cfg.Server.RateLimit,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(deps.Checks, a.logger),
		Status:        handler.NewStatusHandler(cfg.Mode, a.universe),
		Opportunities: handler.NewOpportunityHandler(opps, a.logger),
		Executions:    handler.NewExecutionHandler(execs, a.logger),
		Risk:          handler.NewRiskHandler(e.Book, e.InFlight.Active, a.logger),
		Config:        handler.NewConfigHandler(a.store, a.logger),
		Events:        events,
		Metrics:       e.Metrics.Handler(),
	}, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Serve(ctx)
	})
}

// universe reports the live asset and venue names for /api/status.
func (a *App) universe() ([]string, []string) {
	cfg := a.cfg()
	venues := cfg.EnabledVenues()
	names := make([]string, len(venues))
	for i, v := range venues {
		names[i] = string(v)
	}
	return cfg.Scanner.Assets, names
}

// applyLimits logs the risk limits that a reload has put in force.
func (a *App) applyLimits(ctx context.Context, cfg *config.Config) {
	limits := cfg.RiskLimits()
	a.logger.InfoContext(ctx, "risk limits applied",
		slog.String("max_position_size", limits.MaxPositionSize.String()),
		slog.Int("max_concurrent_trades", limits.MaxConcurrentTrades),
		slog.Int("assets", len(cfg.Scanner.Assets)),
		slog.Any("venues", cfg.EnabledVenues()),
	)
}
