package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	at      = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func opportunity() domain.Opportunity {
	return domain.Opportunity{
		ID: "opp-1", Asset: "XLM", BuyVenue: "a", SellVenue: "b",
		MaxSize: decimal.NewFromInt(10000), EstimatedProfit: decimal.NewFromInt(150), ConfidenceScore: 80,
	}
}

func settled() domain.ExecutionResult {
	return domain.ExecutionResult{
		ID: "res-1", OpportunityID: "opp-1", UnitID: "unit-1", Asset: "XLM", BuyVenue: "a", SellVenue: "b",
		Success: true, FinalState: domain.StateSettled,
		RealizedProfit: decimal.NewFromInt(148), EstimatedProfit: decimal.NewFromInt(150), Drift: decimal.NewFromInt(-2),
		GasUsed: 21000, StartedAt: at, FinishedAt: at.Add(2 * time.Second),
	}
}

func failed() domain.ExecutionResult {
	return domain.ExecutionResult{
		ID: "res-2", OpportunityID: "opp-2", UnitID: "unit-2", Asset: "XLM",
		FinalState: domain.StateAborted, FailureReason: "TradeLegFailed", FailedLeg: domain.LegSell, FailedVenue: "b",
	}
}

type failing struct{ calls int }

func (f *failing) Name() string { return "failing" }
func (f *failing) Write(context.Context, domain.Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutContinuesPastFailingBackend(t *testing.T) {
	bad := &failing{}
	mem := NewMemory(10)
	var errored []string
	f := NewFanout(discard, bad, mem)
	f.OnError(func(b string) { errored = append(errored, b) })

	f.Emit(context.Background(), domain.NewOpportunityEvent(opportunity(), at))
	f.Emit(context.Background(), domain.NewResultEvent(settled(), at))

	assert.Equal(t, 2, bad.calls)
	assert.Equal(t, []string{"failing", "failing"}, errored)
	assert.Len(t, mem.Events(), 2)
	assert.Len(t, mem.Events(domain.EventExecutionResult), 1)
}

func TestMemoryKeepsNewest(t *testing.T) {
	m := NewMemory(2)
	for i := range 3 {
		opp := opportunity()
		opp.ID = string(rune('a' + i))
		m.Emit(context.Background(), domain.NewOpportunityEvent(opp, at))
	}
	evs := m.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "b", evs[0].OpportunityID)
	assert.Equal(t, "c", evs[1].OpportunityID)
}

func TestRecentViewsNewestFirst(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		opp := opportunity()
		opp.ID = id
		m.Emit(ctx, domain.NewOpportunityEvent(opp, at))
	}
	m.Emit(ctx, domain.NewResultEvent(settled(), at))
	m.Emit(ctx, domain.NewResultEvent(failed(), at))

	opps, err := RecentOpportunities{M: m}.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "o3", opps[0].ID)
	assert.Equal(t, "o2", opps[1].ID)

	execs := RecentExecutions{M: m}
	res, err := execs.ListRecent(ctx, domain.ListOpts{Limit: 10, Offset: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "res-1", res[0].ID)

	got, err := execs.GetByID(ctx, "res-2")
	require.NoError(t, err)
	assert.Equal(t, "TradeLegFailed", got.FailureReason)

	_, err = execs.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Broadcast(_ context.Context, ch, stream string, p []byte) error {
	if ch != "" {
		b.published[ch] = append(b.published[ch], p)
	}
	if stream != "" {
		b.streamed[stream] = append(b.streamed[stream], p)
	}
	return nil
}
func (b *fakeBus) Replay(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusPublishesJSON(t *testing.T) {
	fb := newFakeBus()
	b := NewBus(fb, "flasharb:events", "flasharb:log")

	require.NoError(t, b.Write(context.Background(), domain.NewResultEvent(settled(), at)))
	require.Len(t, fb.published["flasharb:events"], 1)
	require.Len(t, fb.streamed["flasharb:log"], 1)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(fb.published["flasharb:events"][0], &ev))
	assert.Equal(t, domain.EventExecutionResult, ev.Type)
	require.NotNil(t, ev.Result)
	assert.True(t, ev.Result.RealizedProfit.Equal(decimal.NewFromInt(148)))

	noStream := NewBus(fb, "flasharb:events", "")
	require.NoError(t, noStream.Write(context.Background(), domain.NewOpportunityEvent(opportunity(), at)))
	assert.Len(t, fb.streamed["flasharb:log"], 1)
}

func TestMetricsCountsEvents(t *testing.T) {
	m := NewMetrics("test")
	ctx := context.Background()
	opp := opportunity()

	require.NoError(t, m.Write(ctx, domain.NewOpportunityEvent(opp, at)))
	require.NoError(t, m.Write(ctx, domain.NewRejectedEvent(opp, domain.Assessment{Reason: domain.RejectLowConfidence}, at)))
	require.NoError(t, m.Write(ctx, domain.NewTransitionEvent("opp-1", "unit-1", "XLM",
		domain.Transition{From: domain.StateValidated, To: domain.StateLoanRequested}, at)))
	require.NoError(t, m.Write(ctx, domain.NewResultEvent(settled(), at)))
	require.NoError(t, m.Write(ctx, domain.NewResultEvent(failed(), at)))
	m.SinkError("bus")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Opportunities.WithLabelValues("XLM", "a->b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues(domain.RejectLowConfidence)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues(string(domain.StateLoanRequested))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("failure", "TradeLegFailed")))
	assert.Equal(t, 148.0, testutil.ToFloat64(m.RealizedProfit))
	assert.Equal(t, 21000.0, testutil.ToFloat64(m.GasUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("bus")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "test_executor_profit_drift_count 1"), body)
	assert.Contains(t, body, "test_scanner_opportunities_total")
}

type memOpps struct {
	inserted []domain.Opportunity
	executed map[string]string
}

func (m *memOpps) Insert(_ context.Context, o domain.Opportunity) error {
	m.inserted = append(m.inserted, o)
	return nil
}
func (m *memOpps) MarkExecuted(_ context.Context, id, resultID string) error {
	if m.executed == nil {
		m.executed = map[string]string{}
	}
	m.executed[id] = resultID
	return nil
}
func (m *memOpps) ListRecent(context.Context, int) ([]domain.Opportunity, error) { return m.inserted, nil }
func (m *memOpps) ListBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (m *memOpps) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memExecs struct{ appended []domain.ExecutionResult }

func (m *memExecs) Append(_ context.Context, r domain.ExecutionResult) error {
	m.appended = append(m.appended, r)
	return nil
}
func (m *memExecs) GetByID(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{}, domain.ErrNotFound
}
func (m *memExecs) ListRecent(context.Context, domain.ListOpts) ([]domain.ExecutionResult, error) {
	return m.appended, nil
}
func (m *memExecs) SumRealized(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (m *memExecs) ListBefore(context.Context, time.Time, int) ([]domain.ExecutionResult, error) {
	return nil, nil
}
func (m *memExecs) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}
func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestStorePersistsEvents(t *testing.T) {
	opps, execs, audit := &memOpps{}, &memExecs{}, &memAudit{}
	s := NewStore(opps, execs, audit)
	ctx := context.Background()
	opp := opportunity()

	require.NoError(t, s.Write(ctx, domain.NewOpportunityEvent(opp, at)))
	require.NoError(t, s.Write(ctx, domain.NewStartedEvent(opp, "unit-1", at)))
	require.NoError(t, s.Write(ctx, domain.NewResultEvent(settled(), at)))
	require.NoError(t, s.Write(ctx, domain.NewResultEvent(failed(), at)))
	require.NoError(t, s.Write(ctx, domain.NewRejectedEvent(opp, domain.Assessment{Reason: domain.RejectSlippage}, at)))
	require.NoError(t, s.Write(ctx, domain.NewForcedCloseEvent(domain.ForcedClose{Asset: "XLM", Reason: "StopLossTriggered"}, at)))

	assert.Len(t, opps.inserted, 1)
	assert.Equal(t, map[string]string{"opp-1": "res-1"}, opps.executed)
	assert.Len(t, execs.appended, 2)
	assert.Equal(t, []string{"execution_failed", "risk_rejected", "forced_close"}, audit.events)

	bare := NewStore(nil, nil, nil)
	assert.NoError(t, bare.Write(ctx, domain.NewResultEvent(failed(), at)))
}

type capture struct{ events, titles, messages []string }

func (c *capture) Notify(_ context.Context, event, title, message string) error {
	c.events = append(c.events, event)
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return nil
}

func TestNotifyRendersOutcomes(t *testing.T) {
	c := &capture{}
	n := NewNotify(c)
	ctx := context.Background()

	require.NoError(t, n.Write(ctx, domain.NewResultEvent(settled(), at)))
	require.NoError(t, n.Write(ctx, domain.NewResultEvent(failed(), at)))
	require.NoError(t, n.Write(ctx, domain.NewTransitionEvent("o", "u", "XLM", domain.Transition{}, at)))

	require.Len(t, c.titles, 2)
	assert.Equal(t, "Settled XLM", c.titles[0])
	assert.Contains(t, c.messages[0], "realized 148")
	assert.Equal(t, "Failed XLM", c.titles[1])
	assert.Contains(t, c.messages[1], "TradeLegFailed leg=sell venue=b")
	assert.Equal(t, string(domain.EventExecutionResult), c.events[0])
}
