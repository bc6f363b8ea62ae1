package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Store holds the active configuration snapshot. Readers call Current and
// treat the result as read-only; Reload swaps in a new snapshot only when it
// loads and validates cleanly.
type Store struct {
	path   string
	logger *slog.Logger
	cur    atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
	loader    func(string) (*Config, error)
}

// NewStore wraps an already validated initial config.
func NewStore(path string, initial *Config, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "config")),
		loader: Load,
	}
	s.cur.Store(initial)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// OnReload registers fn to be called with every accepted snapshot.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the config file. On any failure the previous snapshot stays
// active and a ConfigError is returned. Process-level settings (mode, storage
// endpoints, the wallet) are carried over from the running snapshot because
// they only take effect at startup.
func (s *Store) Reload(ctx context.Context) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	next, err := s.loader(s.path)
	if err != nil {
		s.logger.WarnContext(ctx, "config reload failed, keeping previous config", slog.Any("error", err))
		return prev, domain.ConfigError(domain.ErrInvalidConfig, err, "load %s", s.path)
	}

	next.Mode = prev.Mode
	next.Wallet = prev.Wallet
	next.Postgres = prev.Postgres
	next.Redis = prev.Redis
	next.S3 = prev.S3
	next.Server = prev.Server
	next.Loan.Provider = prev.Loan.Provider
	next.Loan.BaseURL = prev.Loan.BaseURL

	if err := next.Validate(); err != nil {
		s.logger.WarnContext(ctx, "config reload rejected, keeping previous config", slog.Any("error", err))
		return prev, domain.ConfigError(domain.ErrInvalidConfig, err, "validate %s", s.path)
	}

	s.cur.Store(next)
	s.logger.InfoContext(ctx, "config reloaded",
		slog.Int("assets", len(next.Scanner.Assets)),
		slog.Int("venues", len(next.EnabledVenues())),
		slog.Duration("poll_interval", next.Scanner.PollInterval.Duration),
	)
	for _, fn := range s.listeners {
		fn(next)
	}
	return next, nil
}
