package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flasharb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, err := New(ctx, config.PostgresConfig{DSN: dsn, PoolMaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations must be idempotent")
	return c
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func opp(id string, detected time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID: id, Asset: "XLM", Pair: domain.Pair{Base: "XLM", Quote: "USDC"},
		BuyVenue: "a", SellVenue: "b",
		BuyPrice: d("1.00"), SellPrice: d("1.02"), MaxSize: d("10000"),
		EstimatedProfit: d("150"), ConfidenceScore: 82.5,
		DetectedAt: detected, Expiry: detected.Add(5 * time.Second),
	}
}

func TestPostgresStores(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	pool := c.Pool()

	t.Run("intents compare and set", func(t *testing.T) {
		s := NewIntentStore(pool)
		in := domain.Intent{
			UnitID: "unit-1", OpportunityID: "opp-1", Asset: "XLM", Provider: "sim",
			State: domain.StateValidated, Principal: d("10000"), Repayment: d("10030"),
			Signature: "0xabc", Opportunity: opp("opp-1", t0), CreatedAt: t0,
		}
		require.NoError(t, s.Create(ctx, in))
		assert.ErrorIs(t, s.Create(ctx, in), domain.ErrAlreadyExists)

		require.NoError(t, s.Transition(ctx, "unit-1", domain.StateValidated, domain.StateLoanRequested))
		assert.Error(t, s.Transition(ctx, "unit-1", domain.StateValidated, domain.StateLoanRequested))
		assert.ErrorIs(t, s.Transition(ctx, "missing", domain.StateValidated, domain.StateAborted), domain.ErrNotFound)

		got, err := s.Get(ctx, "unit-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StateLoanRequested, got.State)
		assert.True(t, got.Repayment.Equal(d("10030")))
		assert.True(t, got.Opportunity.EstimatedProfit.Equal(d("150")))

		open, err := s.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)

		require.NoError(t, s.Transition(ctx, "unit-1", domain.StateLoanRequested, domain.StateAborted))
		open, err = s.ListOpen(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)

		edges, err := s.Transitions(ctx, "unit-1")
		require.NoError(t, err)
		assert.Equal(t, []domain.Transition{
			{From: domain.StateValidated, To: domain.StateLoanRequested},
			{From: domain.StateLoanRequested, To: domain.StateAborted},
		}, edges)
	})

	t.Run("execution log", func(t *testing.T) {
		s := NewExecutionStore(pool)
		ok := domain.ExecutionResult{
			ID: "res-1", OpportunityID: "opp-1", UnitID: "unit-1", Asset: "XLM", BuyVenue: "a", SellVenue: "b",
			Success: true, FinalState: domain.StateSettled,
			RealizedProfit: d("148.5"), EstimatedProfit: d("150"), Drift: d("-1.5"),
			LoanPrincipal: d("10000"), LoanFee: d("30"), GasUsed: 21000,
			Legs: []domain.LegFill{{Leg: domain.LegBuy, Venue: "a", Side: domain.OrderSideBuy, FilledPrice: d("1"), Amount: d("10000")}},
			StartedAt: t0, FinishedAt: t0.Add(time.Second),
		}
		bad := domain.ExecutionResult{
			ID: "res-2", OpportunityID: "opp-2", UnitID: "unit-2", Asset: "XLM",
			FinalState: domain.StateAborted, FailureReason: "TradeLegFailed", FailedLeg: domain.LegSell, FailedVenue: "b",
			StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour),
		}
		require.NoError(t, s.Append(ctx, ok))
		require.NoError(t, s.Append(ctx, ok))
		require.NoError(t, s.Append(ctx, bad))

		got, err := s.GetByID(ctx, "res-1")
		require.NoError(t, err)
		assert.True(t, got.RealizedProfit.Equal(d("148.5")))
		require.Len(t, got.Legs, 1)
		assert.Equal(t, domain.VenueID("a"), got.Legs[0].Venue)

		_, err = s.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		list, err := s.ListRecent(ctx, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "res-2", list[0].ID)
		assert.Equal(t, domain.VenueID("b"), list[0].FailedVenue)

		sum, err := s.SumRealized(ctx, t0.Add(-time.Hour))
		require.NoError(t, err)
		assert.True(t, sum.Equal(d("148.5")), sum.String())

		old, err := s.ListBefore(ctx, t0.Add(30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, old, 1)
		n, err := s.DeleteBefore(ctx, t0.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("opportunities", func(t *testing.T) {
		s := NewOpportunityStore(pool)
		require.NoError(t, s.Insert(ctx, opp("opp-1", t0)))
		require.NoError(t, s.Insert(ctx, opp("opp-2", t0.Add(time.Minute))))
		require.NoError(t, s.MarkExecuted(ctx, "opp-1", "res-1"))
		assert.ErrorIs(t, s.MarkExecuted(ctx, "ghost", "res-x"), domain.ErrNotFound)

		recent, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "opp-2", recent[0].ID)
		assert.True(t, recent[1].MaxSize.Equal(d("10000")))

		n, err := s.DeleteBefore(ctx, t0.Add(30*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("positions", func(t *testing.T) {
		s := NewPositionStore(pool)
		stop := d("0.95")
		require.NoError(t, s.Upsert(ctx, domain.Position{Asset: "XLM", NetExposure: d("100"), EntryPrice: d("1"), StopLoss: &stop, OpenedAt: t0, UpdatedAt: t0}))
		require.NoError(t, s.Upsert(ctx, domain.Position{Asset: "XLM", NetExposure: d("-20"), EntryPrice: d("1.1"), OpenedAt: t0, UpdatedAt: t0}))
		require.NoError(t, s.Upsert(ctx, domain.Position{Asset: "BTC", NetExposure: d("0.5"), EntryPrice: d("60000"), OpenedAt: t0, UpdatedAt: t0}))

		all, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, domain.AssetID("BTC"), all[0].Asset)
		assert.True(t, all[1].NetExposure.Equal(d("-20")))
		assert.Nil(t, all[1].StopLoss)

		require.NoError(t, s.Delete(ctx, "BTC"))
		require.NoError(t, s.Delete(ctx, "BTC"))
		all, err = s.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("audit", func(t *testing.T) {
		s := NewAuditStore(pool)
		require.NoError(t, s.Log(ctx, "risk_rejected", map[string]any{"reason": "SlippageTooHigh"}))
		require.NoError(t, s.Log(ctx, "forced_close", map[string]any{"asset": "XLM"}))

		entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "forced_close", entries[0].Event)
		assert.Equal(t, "XLM", entries[0].Detail["asset"])
	})
}
