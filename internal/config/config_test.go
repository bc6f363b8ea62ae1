package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const paperTOML = `
mode = "paper"
log_level = "debug"

[scanner]
assets = ["XLM", "AQUA"]
quote = "USDC"
poll_interval = "2s"
trade_size = 10000

[risk]
max_position_size = 20000

[[venues]]
name = "sdex"
kind = "sim"
enabled = true
taker_bps = 10

[[venues]]
name = "soroswap"
kind = "sim"
enabled = true
taker_bps = 30
fill_style = "maker"
maker_bps = 5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Scanner.PollInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Scanner.OpportunityTTL.Duration, "default kept")
	assert.Equal(t, []domain.VenueID{"sdex", "soroswap"}, cfg.EnabledVenues())

	fees := cfg.VenueFees()
	assert.Equal(t, domain.FillMaker, fees["soroswap"].FillStyle)
	assert.Equal(t, int64(10), fees["sdex"].TakerBps)

	limits := cfg.RiskLimits()
	assert.Equal(t, "20000", limits.MaxPositionSize.String())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHARB_SCANNER_MIN_PROFIT", "12.5")
	t.Setenv("FLASHARB_VENUE_SDEX_API_KEY", "key-1")
	t.Setenv("FLASHARB_SCANNER_ASSETS", "XLM, BTC ,")

	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Scanner.MinProfit)
	assert.Equal(t, "key-1", cfg.Venues[0].APIKey)
	assert.Equal(t, []string{"XLM", "BTC"}, cfg.Scanner.Assets)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Risk.MaxConcurrentTrades = 0
	cfg.Venues = []VenueConfig{{Name: "a", Kind: "ftp", Enabled: true}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, "risk: max_concurrent_trades must be >= 1")
	assert.Contains(t, msg, `venue a: unknown kind "ftp"`)
	assert.Contains(t, msg, "at least two enabled venues")
	assert.Contains(t, msg, "scanner: assets must not be empty")
}

func TestTradeModeRequiresWallet(t *testing.T) {
	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)
	cfg.Mode = "trade"
	cfg.Oracle.BaseURL = "https://oracle.example"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")
}

func TestRedactedConfigLeavesOriginalIntact(t *testing.T) {
	cfg, err := Load(writeConfig(t, paperTOML))
	require.NoError(t, err)
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Venues[0].APISecret = "s3cret"

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Venues[0].APISecret)
	assert.Equal(t, "s3cret", cfg.Venues[0].APISecret)
	assert.Empty(t, red.Venues[1].APISecret)
}

func TestStoreReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, paperTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(path, cfg, logger)

	var seen []*Config
	store.OnReload(func(c *Config) { seen = append(seen, c) })

	// Malformed limits are rejected and the running snapshot survives.
	broken := strings.Replace(paperTOML, "max_position_size = 20000", "max_position_size = 20000\nmax_concurrent_trades = 0", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o600))
	_, err = store.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Same(t, cfg, store.Current())
	assert.Empty(t, seen)

	// A valid edit is swapped in, but the mode is pinned.
	updated := strings.Replace(paperTOML, "[scanner]", "[oracle]\ntwap_records = 5\n\n[scanner]", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	t.Setenv("FLASHARB_MODE", "scan")
	next, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, next.Oracle.TWAPRecords)
	assert.Equal(t, "paper", next.Mode)
	assert.Same(t, next, store.Current())
	assert.Len(t, seen, 1)
}
