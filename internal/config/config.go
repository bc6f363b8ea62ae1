// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHARB_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Oracle    OracleConfig    `toml:"oracle"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Loan      LoanConfig      `toml:"loan"`
	Venues    []VenueConfig   `toml:"venues"`
	Sink      SinkConfig      `toml:"sink"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the execution-unit signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the reference price feed parameters.
type OracleConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Source        string   `toml:"source"`
	Freshness     duration `toml:"freshness"`
	Timeout       duration `toml:"timeout"`
	CacheTTL      duration `toml:"cache_ttl"`
	WindowSize    int      `toml:"window_size"`
	WindowMaxAge  duration `toml:"window_max_age"`
	TWAPRecords   int      `toml:"twap_records"`
	RequestLimit  int      `toml:"request_limit"`
	RequestWindow duration `toml:"request_window"`
}

// ScannerConfig holds opportunity discovery parameters.
type ScannerConfig struct {
	Assets               []string         `toml:"assets"`
	Quote                string           `toml:"quote"`
	PollInterval         duration         `toml:"poll_interval"`
	OpportunityTTL       duration         `toml:"opportunity_ttl"`
	MinProfit            float64          `toml:"min_profit"`
	TradeSize            float64          `toml:"trade_size"`
	MaxDeviationBps      int64            `toml:"max_deviation_bps"`
	BookDepth            int              `toml:"book_depth"`
	Concurrency          int              `toml:"concurrency"`
	MaxSettlementLatency duration         `toml:"max_settlement_latency"`
	Confidence           ConfidenceConfig `toml:"confidence"`
	Cooldown             CooldownConfig   `toml:"cooldown"`
}

// ConfidenceConfig weights the components of an opportunity's confidence
// score. Weights are normalised by their sum.
type ConfidenceConfig struct {
	FreshnessWeight   float64 `toml:"freshness_weight"`
	DeviationWeight   float64 `toml:"deviation_weight"`
	LiquidityWeight   float64 `toml:"liquidity_weight"`
	LiquidityCoverage float64 `toml:"liquidity_coverage"` // depth/size ratio that scores 1.0
}

// CooldownConfig controls the per venue-pair failure breaker.
type CooldownConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	Duration         duration `toml:"duration"`
}

// RiskConfig holds the risk gate limits.
type RiskConfig struct {
	MaxPositionSize     float64  `toml:"max_position_size"`
	MaxDrawdownBps      int64    `toml:"max_drawdown_bps"`
	MaxSlippageBps      int64    `toml:"max_slippage_bps"`
	MinLiquidity        float64  `toml:"min_liquidity"`
	MinConfidence       float64  `toml:"min_confidence"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	PortfolioValue      float64  `toml:"portfolio_value"`
	MaxDailyLoss        float64  `toml:"max_daily_loss"`
	LossCooldown        duration `toml:"loss_cooldown"`
	StopLossBps         int64    `toml:"stop_loss_bps"`
}

// ExecutionConfig holds coordinator parameters.
type ExecutionConfig struct {
	AutoExecute      bool     `toml:"auto_execute"`
	DistributedLock  bool     `toml:"distributed_lock"`
	LockTTL          duration `toml:"lock_ttl"`
	DedupTTL         duration `toml:"dedup_ttl"`
	RecoverOnStartup bool     `toml:"recover_on_startup"`
}

// LoanConfig selects and configures the flash-loan provider.
type LoanConfig struct {
	Provider    string   `toml:"provider"` // "sim" or "http"
	Name        string   `toml:"name"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	APISecret   string   `toml:"api_secret"`
	FeeBps      int64    `toml:"fee_bps"`
	GasEstimate float64  `toml:"gas_estimate"`
	Timeout     duration `toml:"timeout"`
}

// VenueConfig describes one trading venue and its fee schedule.
type VenueConfig struct {
	Name              string             `toml:"name"`
	Kind              string             `toml:"kind"` // "sim" or "http"
	Enabled           bool               `toml:"enabled"`
	BaseURL           string             `toml:"base_url"`
	WSURL             string             `toml:"ws_url"`
	APIKey            string             `toml:"api_key"`
	APISecret         string             `toml:"api_secret"`
	Ledger            string             `toml:"ledger"`
	CrossLedger       bool               `toml:"cross_ledger"`
	SettlementLatency duration           `toml:"settlement_latency"`
	MinNotional       float64            `toml:"min_notional"`
	MakerBps          int64              `toml:"maker_bps"`
	TakerBps          int64              `toml:"taker_bps"`
	WithdrawalFee     float64            `toml:"withdrawal_fee"`
	GasEstimate       float64            `toml:"gas_estimate"`
	CrossLedgerFee    float64            `toml:"cross_ledger_fee"`
	FillStyle         string             `toml:"fill_style"`
	RequestLimit      int                `toml:"request_limit"`
	SimPrices         map[string]float64 `toml:"sim_prices"`
	SimDepth          float64            `toml:"sim_depth"`
	SimSpreadBps      int64              `toml:"sim_spread_bps"`
}

// SinkConfig controls where structured events go.
type SinkConfig struct {
	Channel          string   `toml:"channel"`
	Stream           string   `toml:"stream"`
	ArchiveEnabled   bool     `toml:"archive_enabled"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
	ArchivePrefix    string   `toml:"archive_prefix"`
	MetricsNamespace string   `toml:"metrics_namespace"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dur wraps a time.Duration for use in Config literals.
func Dur(d time.Duration) duration { return duration{d} }

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`
	RateLimit   int      `toml:"rate_limit"` // requests per minute per client, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{ChainID: 1},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-data",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Source:        "reflector",
			Freshness:     duration{60 * time.Second},
			Timeout:       duration{5 * time.Second},
			CacheTTL:      duration{2 * time.Minute},
			WindowSize:    64,
			WindowMaxAge:  duration{15 * time.Minute},
			TWAPRecords:   10,
			RequestLimit:  10,
			RequestWindow: duration{time.Second},
		},
		Scanner: ScannerConfig{
			Quote:                "USDC",
			PollInterval:         duration{5 * time.Second},
			OpportunityTTL:       duration{5 * time.Second},
			MinProfit:            1.0,
			TradeSize:            1000.0,
			MaxDeviationBps:      500,
			BookDepth:            20,
			Concurrency:          4,
			MaxSettlementLatency: duration{5 * time.Minute},
			Confidence: ConfidenceConfig{
				FreshnessWeight:   0.4,
				DeviationWeight:   0.3,
				LiquidityWeight:   0.3,
				LiquidityCoverage: 3.0,
			},
			Cooldown: CooldownConfig{
				FailureThreshold: 3,
				SuccessThreshold: 1,
				Duration:         duration{time.Minute},
			},
		},
		Risk: RiskConfig{
			MaxPositionSize:     10_000,
			MaxDrawdownBps:      500,
			MaxSlippageBps:      50,
			MinLiquidity:        500,
			MinConfidence:       60,
			MaxConcurrentTrades: 3,
			PortfolioValue:      250_000,
			MaxDailyLoss:        500,
			LossCooldown:        duration{5 * time.Minute},
			StopLossBps:         500,
		},
		Execution: ExecutionConfig{
			AutoExecute:      true,
			LockTTL:          duration{30 * time.Second},
			DedupTTL:         duration{10 * time.Second},
			RecoverOnStartup: true,
		},
		Loan: LoanConfig{
			Provider:    "sim",
			Name:        "xycloans",
			FeeBps:      5,
			GasEstimate: 0.01,
			Timeout:     duration{10 * time.Second},
		},
		Sink: SinkConfig{
			Channel:          "flasharb:events",
			Stream:           "flasharb:events:log",
			ArchiveInterval:  duration{time.Hour},
			ArchiveRetention: duration{30 * 24 * time.Hour},
			ArchivePrefix:    "archive",
			MetricsNamespace: "flasharb",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"ExecutionResult", "ForcedClose"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":   true,
	"paper":  true,
	"trade":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{"sim": true, "http": true}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, paper, trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Paper mode signs with an ephemeral key.
	if c.Executes() && !c.Simulated() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Sink.ArchiveEnabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when sink.archive_enabled is set")
	}

	errs = append(errs, c.validateTrading()...)

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateTrading checks the sections that may change on reload: limits,
// fees, the polling cadence and the asset/venue universe.
func (c *Config) validateTrading() []string {
	var errs []string

	// Oracle
	if c.Oracle.Freshness.Duration <= 0 {
		errs = append(errs, "oracle: freshness must be > 0")
	}
	if c.Oracle.WindowSize < 1 {
		errs = append(errs, "oracle: window_size must be >= 1")
	}
	if c.Oracle.TWAPRecords < 1 || c.Oracle.TWAPRecords > c.Oracle.WindowSize {
		errs = append(errs, fmt.Sprintf("oracle: twap_records must be 1-%d, got %d", c.Oracle.WindowSize, c.Oracle.TWAPRecords))
	}
	if c.Mode != "paper" && c.Mode != "server" && c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	// Scanner
	if len(c.Scanner.Assets) == 0 {
		errs = append(errs, "scanner: assets must not be empty")
	}
	if c.Scanner.Quote == "" {
		errs = append(errs, "scanner: quote must not be empty")
	}
	if p := c.Scanner.PollInterval.Duration; p < time.Second || p > time.Minute {
		errs = append(errs, fmt.Sprintf("scanner: poll_interval must be 1s-1m, got %s", p))
	}
	if c.Scanner.OpportunityTTL.Duration <= 0 {
		errs = append(errs, "scanner: opportunity_ttl must be > 0")
	}
	if c.Scanner.TradeSize <= 0 {
		errs = append(errs, "scanner: trade_size must be > 0")
	}
	if c.Scanner.MinProfit < 0 {
		errs = append(errs, "scanner: min_profit must be >= 0")
	}
	if c.Scanner.MaxDeviationBps <= 0 {
		errs = append(errs, "scanner: max_deviation_bps must be > 0")
	}
	if c.Scanner.BookDepth < 1 {
		errs = append(errs, "scanner: book_depth must be >= 1")
	}
	cw := c.Scanner.Confidence
	if cw.FreshnessWeight < 0 || cw.DeviationWeight < 0 || cw.LiquidityWeight < 0 {
		errs = append(errs, "scanner.confidence: weights must be >= 0")
	}
	if cw.FreshnessWeight+cw.DeviationWeight+cw.LiquidityWeight <= 0 {
		errs = append(errs, "scanner.confidence: at least one weight must be > 0")
	}
	if c.Scanner.Cooldown.FailureThreshold < 1 {
		errs = append(errs, "scanner.cooldown: failure_threshold must be >= 1")
	}

	// Risk
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxDrawdownBps <= 0 || c.Risk.MaxDrawdownBps > 10_000 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_bps must be 1-10000, got %d", c.Risk.MaxDrawdownBps))
	}
	if c.Risk.MaxSlippageBps <= 0 {
		errs = append(errs, "risk: max_slippage_bps must be > 0")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 100 {
		errs = append(errs, "risk: min_confidence must be 0-100")
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		errs = append(errs, "risk: max_concurrent_trades must be >= 1")
	}
	if c.Risk.PortfolioValue <= 0 {
		errs = append(errs, "risk: portfolio_value must be > 0")
	}
	if c.Risk.StopLossBps < 0 || c.Risk.StopLossBps >= 10_000 {
		errs = append(errs, "risk: stop_loss_bps must be 0-9999")
	}

	// Loan provider
	switch c.Loan.Provider {
	case "sim":
	case "http":
		if c.Loan.BaseURL == "" {
			errs = append(errs, "loan: base_url is required for the http provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("loan: unknown provider %q (valid: sim, http)", c.Loan.Provider))
	}
	if c.Loan.FeeBps < 0 {
		errs = append(errs, "loan: fee_bps must be >= 0")
	}

	// Venues
	enabled := 0
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		label := fmt.Sprintf("venues[%d]", i)
		if v.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else {
			label = "venue " + v.Name
		}
		if seen[v.Name] {
			errs = append(errs, label+": duplicate name")
		}
		seen[v.Name] = true
		if !validVenueKinds[v.Kind] {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: sim, http)", label, v.Kind))
		}
		if v.Kind == "http" && v.BaseURL == "" {
			errs = append(errs, label+": base_url is required for http venues")
		}
		if v.MakerBps < 0 || v.TakerBps < 0 {
			errs = append(errs, label+": fee bps must be >= 0")
		}
		if v.WithdrawalFee < 0 || v.GasEstimate < 0 || v.CrossLedgerFee < 0 {
			errs = append(errs, label+": fees must be >= 0")
		}
		if v.FillStyle != "" && v.FillStyle != "taker" && v.FillStyle != "maker" {
			errs = append(errs, fmt.Sprintf("%s: unknown fill_style %q", label, v.FillStyle))
		}
		if v.Enabled {
			enabled++
		}
	}
	if c.Mode != "server" && enabled < 2 {
		errs = append(errs, fmt.Sprintf("venues: at least two enabled venues are required, got %d", enabled))
	}

	return errs
}

// Executes reports whether the configured mode submits execution units.
func (c *Config) Executes() bool {
	switch c.Mode {
	case "paper", "trade", "full":
		return c.Execution.AutoExecute
	}
	return false
}

// Simulated reports whether venues and the loan provider run in-process.
func (c *Config) Simulated() bool {
	return c.Mode == "paper"
}
