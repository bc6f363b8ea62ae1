package arbitrage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// BreakerState is the state of a venue-pair cooldown breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // pair is scanned
	BreakerOpen                         // pair is skipped until the cooldown lapses
	BreakerHalfOpen                     // one probe cycle after cooldown
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CooldownConfig configures every venue-pair breaker.
type CooldownConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

type breaker struct {
	state        BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
}

// Cooldowns tracks one breaker per unordered venue pair. A pair that keeps
// failing trade legs is skipped for the cooldown, then half-opens; a
// success in half-open closes it and a failure re-opens it.
type Cooldowns struct {
	mu       sync.Mutex
	cfg      CooldownConfig
	breakers map[string]*breaker
	now      func() time.Time
	logger   *slog.Logger
}

// NewCooldowns creates the breaker set.
func NewCooldowns(cfg CooldownConfig, logger *slog.Logger) *Cooldowns {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &Cooldowns{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "cooldown")),
	}
}

func (c *Cooldowns) get(key string) *breaker {
	b, ok := c.breakers[key]
	if !ok {
		b = &breaker{state: BreakerClosed}
		c.breakers[key] = b
	}
	return b
}

// Allow reports whether the pair may be scanned this cycle.
func (c *Cooldowns) Allow(vp domain.VenuePair) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.get(vp.Key())
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if c.now().Sub(b.lastFailure) >= c.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.successCount = 0
			c.logger.Info("venue pair cooldown lapsed, probing", slog.String("pair", vp.Key()))
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a settled execution on the pair.
func (c *Cooldowns) RecordSuccess(vp domain.VenuePair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.get(vp.Key())
	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= c.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
			c.logger.Info("venue pair recovered", slog.String("pair", vp.Key()))
		}
	}
}

// RecordFailure records a failed trade leg on the pair.
func (c *Cooldowns) RecordFailure(vp domain.VenuePair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.get(vp.Key())
	b.lastFailure = c.now()
	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= c.cfg.FailureThreshold {
			b.state = BreakerOpen
			c.logger.Warn("venue pair cooling down",
				slog.String("pair", vp.Key()),
				slog.Int("failures", b.failureCount),
				slog.Duration("cooldown", c.cfg.Cooldown),
			)
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.successCount = 0
		c.logger.Warn("venue pair probe failed", slog.String("pair", vp.Key()))
	}
}

// State returns the pair's breaker state.
func (c *Cooldowns) State(vp domain.VenuePair) BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[vp.Key()]; ok {
		return b.state
	}
	return BreakerClosed
}

// Reset closes every breaker.
func (c *Cooldowns) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakers = make(map[string]*breaker)
}
