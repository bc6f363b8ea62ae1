package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "FLASHARB_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")
	setInt(&cfg.Wallet.ChainID, "FLASHARB_WALLET_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLASHARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLASHARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLASHARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLASHARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "FLASHARB_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "FLASHARB_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.Freshness, "FLASHARB_ORACLE_FRESHNESS")
	setInt(&cfg.Oracle.TWAPRecords, "FLASHARB_ORACLE_TWAP_RECORDS")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Assets, "FLASHARB_SCANNER_ASSETS")
	setStr(&cfg.Scanner.Quote, "FLASHARB_SCANNER_QUOTE")
	setDuration(&cfg.Scanner.PollInterval, "FLASHARB_SCANNER_POLL_INTERVAL")
	setDuration(&cfg.Scanner.OpportunityTTL, "FLASHARB_SCANNER_OPPORTUNITY_TTL")
	setFloat64(&cfg.Scanner.MinProfit, "FLASHARB_SCANNER_MIN_PROFIT")
	setFloat64(&cfg.Scanner.TradeSize, "FLASHARB_SCANNER_TRADE_SIZE")
	setInt64(&cfg.Scanner.MaxDeviationBps, "FLASHARB_SCANNER_MAX_DEVIATION_BPS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "FLASHARB_RISK_MAX_POSITION_SIZE")
	setInt64(&cfg.Risk.MaxDrawdownBps, "FLASHARB_RISK_MAX_DRAWDOWN_BPS")
	setInt64(&cfg.Risk.MaxSlippageBps, "FLASHARB_RISK_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Risk.MinLiquidity, "FLASHARB_RISK_MIN_LIQUIDITY")
	setFloat64(&cfg.Risk.MinConfidence, "FLASHARB_RISK_MIN_CONFIDENCE")
	setInt(&cfg.Risk.MaxConcurrentTrades, "FLASHARB_RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.PortfolioValue, "FLASHARB_RISK_PORTFOLIO_VALUE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "FLASHARB_RISK_MAX_DAILY_LOSS")

	// ── Execution / loan ──
	setBool(&cfg.Execution.AutoExecute, "FLASHARB_EXECUTION_AUTO_EXECUTE")
	setBool(&cfg.Execution.DistributedLock, "FLASHARB_EXECUTION_DISTRIBUTED_LOCK")
	setStr(&cfg.Loan.Provider, "FLASHARB_LOAN_PROVIDER")
	setStr(&cfg.Loan.BaseURL, "FLASHARB_LOAN_BASE_URL")
	setStr(&cfg.Loan.APIKey, "FLASHARB_LOAN_API_KEY")
	setStr(&cfg.Loan.APISecret, "FLASHARB_LOAN_API_SECRET")
	setInt64(&cfg.Loan.FeeBps, "FLASHARB_LOAN_FEE_BPS")

	// ── Venues: FLASHARB_VENUE_<NAME>_API_KEY / _API_SECRET ──
	for i := range cfg.Venues {
		key := envPrefix + "VENUE_" + envName(cfg.Venues[i].Name)
		setStr(&cfg.Venues[i].APIKey, key+"_API_KEY")
		setStr(&cfg.Venues[i].APISecret, key+"_API_SECRET")
		setStr(&cfg.Venues[i].BaseURL, key+"_BASE_URL")
		setBool(&cfg.Venues[i].Enabled, key+"_ENABLED")
	}

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthToken, "FLASHARB_SERVER_AUTH_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// envName upper-cases a venue name and replaces separators with underscores.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
