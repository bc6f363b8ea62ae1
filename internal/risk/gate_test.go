package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func limits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:     d("50000"),
		MaxDrawdownBps:      5000,
		MaxSlippageBps:      100,
		MinLiquidity:        d("1000"),
		MinConfidence:       60,
		MaxConcurrentTrades: 3,
		PortfolioValue:      d("100000"),
		MaxDailyLoss:        d("500"),
		LossCooldown:        time.Minute,
	}
}

// The 1.00/1.02 opportunity netting 150 on 10,000 units.
func goodOpportunity(now time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		Asset:           "XLM",
		BuyVenue:        "a",
		SellVenue:       "b",
		BuyPrice:        d("1.00"),
		SellPrice:       d("1.02"),
		BuyLimit:        d("1.00"),
		SellLimit:       d("1.02"),
		MaxSize:         d("10000"),
		EstimatedProfit: d("150"),
		BuySlippageBps:  decimal.Zero,
		SellSlippageBps: decimal.Zero,
		Liquidity:       d("100000"),
		ConfidenceScore: 90,
		DetectedAt:      now,
		Expiry:          now.Add(5 * time.Second),
	}
}

func TestAssessApprovesProfitableScenario(t *testing.T) {
	g := NewGate(discardLogger())
	now := time.Now()
	g.now = func() time.Time { return now }

	a := g.Assess(goodOpportunity(now), limits(), Snapshot{Version: 7})
	assert.True(t, a.Approved)
	assert.Empty(t, a.Reason)
	assert.Equal(t, domain.RiskLow, a.Level)
	assert.Equal(t, uint64(7), a.Version)
	assert.Equal(t, "opp-1", a.OpportunityID)
}

func TestAssessRejections(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(*domain.Opportunity, *domain.RiskLimits, *Snapshot)
		reason string
	}{
		{"size over limit", func(o *domain.Opportunity, l *domain.RiskLimits, _ *Snapshot) {
			l.MaxPositionSize = d("9999")
		}, domain.RejectPositionLimit},
		{"projected exposure", func(_ *domain.Opportunity, _ *domain.RiskLimits, s *Snapshot) {
			s.Positions = map[domain.AssetID]domain.Position{
				"XLM": {Asset: "XLM", NetExposure: d("-45000"), MarkPrice: d("1")},
			}
		}, domain.RejectExposureLimit},
		{"low confidence", func(o *domain.Opportunity, _ *domain.RiskLimits, _ *Snapshot) {
			o.ConfidenceScore = 59.9
		}, domain.RejectLowConfidence},
		{"thin liquidity", func(o *domain.Opportunity, _ *domain.RiskLimits, _ *Snapshot) {
			o.Liquidity = d("999")
		}, domain.RejectLowLiquidity},
		{"concurrency", func(_ *domain.Opportunity, _ *domain.RiskLimits, s *Snapshot) {
			s.InFlight = 3
		}, domain.RejectConcurrency},
		{"slippage", func(o *domain.Opportunity, _ *domain.RiskLimits, _ *Snapshot) {
			o.SellSlippageBps = d("101")
		}, domain.RejectSlippage},
		{"daily loss", func(_ *domain.Opportunity, _ *domain.RiskLimits, s *Snapshot) {
			s.DailyPnL = d("-500")
		}, domain.RejectDailyLoss},
		{"loss cooldown", func(_ *domain.Opportunity, _ *domain.RiskLimits, s *Snapshot) {
			s.LastLossAt = now.Add(-30 * time.Second)
		}, domain.RejectLossCooldown},
		{"expired", func(o *domain.Opportunity, _ *domain.RiskLimits, _ *Snapshot) {
			o.Expiry = now
		}, domain.RejectExpired},
		{"no portfolio", func(_ *domain.Opportunity, l *domain.RiskLimits, _ *Snapshot) {
			l.PortfolioValue = decimal.Zero
		}, domain.RejectInvalidSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(discardLogger())
			g.now = func() time.Time { return now }
			opp, lim, snap := goodOpportunity(now), limits(), Snapshot{}
			tt.mutate(&opp, &lim, &snap)

			a := g.Assess(opp, lim, snap)
			require.False(t, a.Approved)
			assert.Equal(t, tt.reason, a.Reason)
			assert.Contains(t, a.Factors, tt.reason)
			assert.Positive(t, a.RiskScore)
		})
	}
}

func TestAssessAccumulatesFactors(t *testing.T) {
	now := time.Now()
	g := NewGate(discardLogger())
	g.now = func() time.Time { return now }

	opp := goodOpportunity(now)
	opp.ConfidenceScore = 10
	opp.Liquidity = d("1")
	opp.BuySlippageBps = d("500")
	lim := limits()
	lim.MaxPositionSize = d("1")

	a := g.Assess(opp, lim, Snapshot{})
	assert.False(t, a.Approved)
	assert.Equal(t, domain.RejectPositionLimit, a.Reason)
	assert.Len(t, a.Factors, 4)
	assert.Equal(t, 90.0, a.RiskScore)
	assert.Equal(t, domain.RiskCritical, a.Level)
}

func TestAssessAdvisoryFactorsDoNotReject(t *testing.T) {
	now := time.Now()
	g := NewGate(discardLogger())
	g.now = func() time.Time { return now }
	opp := goodOpportunity(now)
	opp.MaxSize = d("45000")
	opp.CrossLedger = true

	a := g.Assess(opp, limits(), Snapshot{})
	assert.True(t, a.Approved)
	assert.Equal(t, []string{"NearPositionLimit", "CrossLedger"}, a.Factors)
	assert.Equal(t, domain.RiskLow, a.Level)
}

func TestAssessExposureIsPerAsset(t *testing.T) {
	g := NewGate(discardLogger())
	now := time.Now()
	g.now = func() time.Time { return now }

	snap := Snapshot{Positions: map[domain.AssetID]domain.Position{
		"BTC": {Asset: "BTC", NetExposure: d("1"), MarkPrice: d("45000")},
	}}
	a := g.Assess(goodOpportunity(now), limits(), snap)
	assert.True(t, a.Approved, "reason %q", a.Reason)

	snap.Positions["XLM"] = domain.Position{Asset: "XLM", NetExposure: d("40001"), EntryPrice: d("1")}
	a = g.Assess(goodOpportunity(now), limits(), snap)
	assert.False(t, a.Approved)
	assert.Equal(t, domain.RejectExposureLimit, a.Reason)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, domain.RiskLow, Level(0))
	assert.Equal(t, domain.RiskLow, Level(29))
	assert.Equal(t, domain.RiskMedium, Level(30))
	assert.Equal(t, domain.RiskHigh, Level(60))
	assert.Equal(t, domain.RiskCritical, Level(80))
	assert.Equal(t, domain.RiskCritical, Level(100))
}

func FuzzAssessNeverApprovesOversize(f *testing.F) {
	f.Add(int64(10000), int64(50000), 90.0, int64(100000))
	f.Add(int64(50001), int64(50000), 100.0, int64(1))
	f.Add(int64(1), int64(0), 0.0, int64(0))
	f.Fuzz(func(t *testing.T, size, maxSize int64, confidence float64, liquidity int64) {
		now := time.Now()
		g := NewGate(discardLogger())
		g.now = func() time.Time { return now }

		opp := goodOpportunity(now)
		opp.MaxSize = decimal.NewFromInt(size)
		opp.ConfidenceScore = confidence
		opp.Liquidity = decimal.NewFromInt(liquidity)
		lim := limits()
		lim.MaxPositionSize = decimal.NewFromInt(maxSize)

		a := g.Assess(opp, lim, Snapshot{})
		if a.Approved && opp.MaxSize.GreaterThan(lim.MaxPositionSize) {
			t.Fatalf("approved size %s over limit %s", opp.MaxSize, lim.MaxPositionSize)
		}
		if a.RiskScore < 0 || a.RiskScore > 100 {
			t.Fatalf("score %v out of range", a.RiskScore)
		}
	})
}
