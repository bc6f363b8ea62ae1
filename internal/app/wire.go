package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine runs on. Every field
// may be nil when its backend is not configured or, outside trade mode, not
// reachable; the engine falls back to in-memory equivalents.
type Dependencies struct {
	// Stores
	IntentStore      domain.IntentStore
	ExecutionStore   domain.ExecutionStore
	OpportunityStore domain.OpportunityStore
	PositionStore    domain.PositionStore
	AuditStore       domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by backend name.
	Checks map[string]handler.Check
}

// strict reports whether a backend failure aborts startup. Live trading and
// the read API need their stores; scan and paper degrade to memory.
func strict(mode string) bool {
	switch mode {
	case "trade", "full", "server":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	mustHave := strict(cfg.Mode)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, cfg.Postgres)
	switch {
	case err != nil && mustHave:
		return fail("postgres", err)
	case err != nil:
		logger.WarnContext(ctx, "postgres unavailable, using in-memory stores", slog.String("error", err.Error()))
	default:
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pgClient.Pool()
		deps.IntentStore = postgres.NewIntentStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, cfg.Redis)
	switch {
	case err != nil && mustHave:
		return fail("redis", err)
	case err != nil:
		logger.WarnContext(ctx, "redis unavailable, running without caches and event bus", slog.String("error", err.Error()))
	default:
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.CacheTTL.Duration)
		deps.BookCache = redis.NewOrderbookCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, 0)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive (needs the execution log to archive from) ---
	if cfg.Sink.ArchiveEnabled && deps.ExecutionStore != nil {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.ExecutionStore,
			deps.OpportunityStore,
			deps.AuditStore,
			cfg.Sink.ArchivePrefix,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}
