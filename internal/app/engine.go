package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/loan"
	"github.com/alanyoungcy/flasharb/internal/oracle"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/service"
	"github.com/alanyoungcy/flasharb/internal/sim"
	"github.com/alanyoungcy/flasharb/internal/sink"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

const (
	recentEvents   = 2000
	stopLossBuffer = 16
	simBookLevels  = 10
	simDriftBps    = 15
)

// Engine holds every long-lived component of the arbitrage pipeline.
type Engine struct {
	Venues      *venue.Registry
	Feeds       []*venue.WSFeed
	SimVenues   []*sim.Venue
	Oracle      *oracle.Client
	Scanner     *arbitrage.Scanner
	Gate        *risk.Gate
	Book        *risk.PositionBook
	InFlight    *risk.InFlight
	Watcher     *risk.StopLossWatcher
	Coordinator *executor.Coordinator
	Provider    loan.Provider
	Arb         *service.ArbService
	Prices      *service.PriceService

	Sink    *sink.Fanout
	Memory  *sink.Memory
	Metrics *sink.Metrics
}

// BuildEngine constructs the pipeline from cfg on top of deps.
func BuildEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		Memory:  sink.NewMemory(recentEvents),
		Metrics: sink.NewMetrics(cfg.Sink.MetricsNamespace),
	}
	e.Sink = buildSink(cfg, deps, e.Memory, e.Metrics, logger)

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
		AllowEphemeral:   !cfg.Executes() || cfg.Simulated(),
		ChainID:          cfg.Wallet.ChainID,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load signer: %w", err)
	}

	var ledger *sim.Ledger
	if cfg.Simulated() || cfg.Loan.Provider == "sim" || anySimVenue(cfg) {
		ledger = sim.NewLedger(cfg.Loan.Name, cfg.Loan.FeeSchedule(), sim.WithSignatureCheck(cfg.Wallet.ChainID, signer.Address()))
	}

	e.Venues = venue.NewRegistry()
	for _, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		if cfg.Simulated() || vc.Kind == "sim" {
			sv := buildSimVenue(cfg, vc, ledger)
			e.SimVenues = append(e.SimVenues, sv)
			e.Venues.Register(sv)
			continue
		}
		e.Venues.Register(venue.NewHTTPAdapter(venue.HTTPConfig{
			ID:           domain.VenueID(vc.Name),
			BaseURL:      vc.BaseURL,
			Auth:         crypto.HMACAuth{Key: vc.APIKey, Secret: vc.APISecret},
			Capabilities: capabilities(vc),
			Fees:         vc.FeeSchedule(),
			MinNotional:  decimal.NewFromFloat(vc.MinNotional),
			Timeout:      cfg.Oracle.Timeout.Duration,
			RequestLimit: vc.RequestLimit,
			BookMaxAge:   cfg.Scanner.PollInterval.Duration,
			BookDepth:    cfg.Scanner.BookDepth,
		}, deps.RateLimiter, deps.BookCache, logger))
		if vc.WSURL != "" && deps.BookCache != nil {
			pairs := make([]domain.Pair, 0, len(cfg.Scanner.Assets))
			for _, a := range cfg.Assets() {
				pairs = append(pairs, cfg.PairFor(a))
			}
			e.Feeds = append(e.Feeds, venue.NewWSFeed(domain.VenueID(vc.Name), vc.WSURL, pairs, deps.BookCache, logger))
		}
	}

	var source oracle.Source
	if cfg.Simulated() {
		source = sim.NewOracleSource(domain.AssetID(cfg.Scanner.Quote), e.SimVenues...)
	} else {
		opts := []oracle.HTTPSourceOption{oracle.WithAPIKey(cfg.Oracle.APIKey)}
		if deps.RateLimiter != nil {
			opts = append(opts, oracle.WithRateLimit(deps.RateLimiter, cfg.Oracle.RequestLimit, cfg.Oracle.RequestWindow.Duration))
		}
		source = oracle.NewHTTPSource(cfg.Oracle.BaseURL, cfg.Oracle.Source, cfg.Oracle.Timeout.Duration, opts...)
	}
	e.Oracle = oracle.NewClient(source, deps.PriceCache, oracle.Options{
		Freshness:    cfg.Oracle.Freshness.Duration,
		WindowSize:   cfg.Oracle.WindowSize,
		WindowMaxAge: cfg.Oracle.WindowMaxAge.Duration,
	}, logger)

	if cfg.Simulated() || cfg.Loan.Provider == "sim" {
		e.Provider = ledger
	} else {
		e.Provider = loan.NewHTTPProvider(cfg.Loan.Name, cfg.Loan.BaseURL,
			crypto.HMACAuth{Key: cfg.Loan.APIKey, Secret: cfg.Loan.APISecret},
			cfg.Loan.FeeSchedule(), cfg.Loan.Timeout.Duration)
	}

	cooldowns := arbitrage.NewCooldowns(cooldownConfig(cfg), logger)
	e.Scanner = arbitrage.NewScanner(e.Oracle, cooldowns, scannerParams(cfg), logger)

	e.Gate = risk.NewGate(logger)
	e.Book = risk.NewPositionBook(deps.PositionStore, logger)
	e.Book.SetStopLossBps(cfg.Risk.StopLossBps)
	if err := e.Book.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	var locks domain.LockManager
	if cfg.Execution.DistributedLock {
		locks = deps.LockManager
	}
	e.InFlight = risk.NewInFlight(cfg.Risk.MaxConcurrentTrades, locks, cfg.Execution.LockTTL.Duration)
	e.Watcher = risk.NewStopLossWatcher(e.Book, stopLossBuffer, logger)

	var intents domain.IntentStore = executor.NewMemoryIntents()
	if deps.IntentStore != nil {
		intents = deps.IntentStore
	}
	e.Coordinator = executor.NewCoordinator(e.Venues, signer, intents, e.Book, e.InFlight, e.Sink,
		coordinatorConfig(cfg), logger)

	e.Arb = service.NewArbService(e.Scanner, e.Gate, e.Book, e.InFlight, e.Coordinator, e.Provider,
		e.Venues, e.Sink, arbConfig(cfg), max(cfg.Risk.MaxConcurrentTrades*2, 4), logger)
	e.Prices = service.NewPriceService(e.Oracle, e.Book, e.Watcher, e.Coordinator, e.Provider, logger)

	logger.InfoContext(ctx, "engine built",
		slog.Int("venues", len(e.Venues.All())),
		slog.Int("feeds", len(e.Feeds)),
		slog.String("provider", e.Provider.Name()),
		slog.String("signer", signer.Address().Hex()),
		slog.Bool("executes", cfg.Executes()),
	)
	return e, nil
}

// Apply pushes a reloaded snapshot into every reloadable component.
func (e *Engine) Apply(cfg *config.Config) {
	e.Scanner.SetParams(scannerParams(cfg))
	e.Coordinator.SetConfig(coordinatorConfig(cfg))
	e.InFlight.SetMax(cfg.Risk.MaxConcurrentTrades)
	e.Book.SetStopLossBps(cfg.Risk.StopLossBps)
	e.Arb.SetConfig(arbConfig(cfg))
}

// Observe refreshes the gauges derived from engine state.
func (e *Engine) Observe() {
	e.Metrics.InFlight.Set(float64(e.InFlight.Active()))
	e.Metrics.Exposure.Set(e.Book.Snapshot().Exposure().InexactFloat64())
}

func buildSink(cfg *config.Config, deps *Dependencies, mem *sink.Memory, metrics *sink.Metrics, logger *slog.Logger) *sink.Fanout {
	f := sink.NewFanout(logger, mem, metrics)
	f.OnError(metrics.SinkError)
	if deps.SignalBus != nil {
		f.Add(sink.NewBus(deps.SignalBus, cfg.Sink.Channel, cfg.Sink.Stream))
	}
	if deps.ExecutionStore != nil || deps.OpportunityStore != nil || deps.AuditStore != nil {
		f.Add(sink.NewStore(deps.OpportunityStore, deps.ExecutionStore, deps.AuditStore))
	}
	if deps.Notifier != nil {
		f.Add(sink.NewNotify(deps.Notifier))
	}
	return f
}

func anySimVenue(cfg *config.Config) bool {
	for _, v := range cfg.Venues {
		if v.Enabled && v.Kind == "sim" {
			return true
		}
	}
	return false
}

func capabilities(vc config.VenueConfig) venue.Capabilities {
	return venue.Capabilities{
		CrossLedger:       vc.CrossLedger,
		Ledger:            vc.Ledger,
		SettlementLatency: vc.SettlementLatency.Duration,
	}
}

// buildSimVenue seeds one book per configured asset around its sim price.
func buildSimVenue(cfg *config.Config, vc config.VenueConfig, ledger *sim.Ledger) *sim.Venue {
	sv := sim.NewVenue(sim.VenueConfig{
		ID:           domain.VenueID(vc.Name),
		Fees:         vc.FeeSchedule(),
		Capabilities: capabilities(vc),
		MinNotional:  decimal.NewFromFloat(vc.MinNotional),
	}, ledger)
	depth := decimal.NewFromFloat(vc.SimDepth)
	if !depth.IsPositive() {
		depth = cfg.TradeSize().Mul(decimal.NewFromInt(10))
	}
	for _, asset := range cfg.Assets() {
		mid, ok := vc.SimPrices[string(asset)]
		if !ok || mid <= 0 {
			continue
		}
		sv.SeedBook(cfg.PairFor(asset), decimal.NewFromFloat(mid), max(vc.SimSpreadBps, 1), depth, simBookLevels)
	}
	return sv
}

func cooldownConfig(cfg *config.Config) arbitrage.CooldownConfig {
	c := cfg.Scanner.Cooldown
	return arbitrage.CooldownConfig{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Cooldown:         c.Duration.Duration,
	}
}

func scannerParams(cfg *config.Config) arbitrage.Params {
	s := cfg.Scanner
	return arbitrage.Params{
		Quote:                domain.AssetID(s.Quote),
		TradeSize:            cfg.TradeSize(),
		MaxDeviationBps:      s.MaxDeviationBps,
		BookDepth:            s.BookDepth,
		TWAPRecords:          cfg.Oracle.TWAPRecords,
		Freshness:            cfg.Oracle.Freshness.Duration,
		TTL:                  s.OpportunityTTL.Duration,
		MaxSettlementLatency: s.MaxSettlementLatency.Duration,
		Concurrency:          s.Concurrency,
		Weights: arbitrage.ConfidenceWeights{
			Freshness:         s.Confidence.FreshnessWeight,
			Deviation:         s.Confidence.DeviationWeight,
			Liquidity:         s.Confidence.LiquidityWeight,
			LiquidityCoverage: s.Confidence.LiquidityCoverage,
		},
		VenueFees: cfg.VenueFees(),
		LoanFees:  cfg.Loan.FeeSchedule(),
	}
}

func coordinatorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		MaxSlippageBps: cfg.Risk.MaxSlippageBps,
		Quote:          domain.AssetID(cfg.Scanner.Quote),
		BookDepth:      cfg.Scanner.BookDepth,
		AbortTimeout:   cfg.Loan.Timeout.Duration,
		DedupTTL:       cfg.Execution.DedupTTL.Duration,
	}
}

func arbConfig(cfg *config.Config) service.ArbConfig {
	return service.ArbConfig{
		Assets:    cfg.Assets(),
		Venues:    cfg.EnabledVenues(),
		MinProfit: cfg.MinProfit(),
		Limits:    cfg.RiskLimits(),
		Execute:   cfg.Executes(),
	}
}

// sinceStart formats process uptime for the status log line.
func sinceStart(start time.Time) string {
	return time.Since(start).Truncate(time.Second).String()
}
