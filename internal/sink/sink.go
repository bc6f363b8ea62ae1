// Package sink fans structured engine events out to observability and
// persistence backends: the Redis signal bus, Prometheus, the Postgres
// execution and audit logs, and webhook notifiers.
//
// Emit never fails from the caller's point of view. Backend errors are
// logged and counted so a broken sink can never stall an execution unit.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sink consumes engine events.
type Sink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// Backend is a sink that can fail. Fanout logs the failure.
type Backend interface {
	Name() string
	Write(ctx context.Context, ev domain.Event) error
}

// Fanout delivers every event to each backend in registration order.
type Fanout struct {
	backends []Backend
	logger   *slog.Logger
	onError  func(backend string)
}

// NewFanout creates a Fanout over backends.
func NewFanout(logger *slog.Logger, backends ...Backend) *Fanout {
	return &Fanout{
		backends: backends,
		logger:   logger.With(slog.String("component", "sink")),
	}
}

// OnError registers a hook called with the backend name after each failed
// write.
func (f *Fanout) OnError(fn func(backend string)) {
	f.onError = fn
}

// Add appends a backend. It is not safe to call concurrently with Emit.
func (f *Fanout) Add(b Backend) {
	f.backends = append(f.backends, b)
}

// Emit writes ev to every backend.
func (f *Fanout) Emit(ctx context.Context, ev domain.Event) {
	for _, b := range f.backends {
		if err := b.Write(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "sink backend write failed",
				slog.String("backend", b.Name()),
				slog.String("event", string(ev.Type)),
				slog.Any("error", err),
			)
			if f.onError != nil {
				f.onError(b.Name())
			}
		}
	}
}

// Memory keeps the most recent events in a ring buffer, newest last.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
	max    int
}

// NewMemory creates a Memory sink holding at most max events.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1000
	}
	return &Memory{max: max}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if over := len(m.events) - m.max; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

// Emit lets Memory be used directly as a Sink.
func (m *Memory) Emit(ctx context.Context, ev domain.Event) {
	_ = m.Write(ctx, ev)
}

// Events returns a copy of the buffered events, optionally filtered by type.
func (m *Memory) Events(types ...domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, 0, len(m.events))
	for _, ev := range m.events {
		if len(types) == 0 || slices.Contains(types, ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ Sink    = (*Fanout)(nil)
	_ Backend = (*Memory)(nil)
)

// RecentOpportunities serves OpportunityFound events from a Memory sink as a
// read model when no database is configured.
type RecentOpportunities struct{ M *Memory }

// ListRecent returns up to limit opportunities, newest first.
func (r RecentOpportunities) ListRecent(_ context.Context, limit int) ([]domain.Opportunity, error) {
	events := r.M.Events(domain.EventOpportunityFound)
	out := make([]domain.Opportunity, 0, min(len(events), max(limit, 0)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if events[i].Opportunity != nil {
			out = append(out, *events[i].Opportunity)
		}
	}
	return out, nil
}

// RecentExecutions serves ExecutionResult events from a Memory sink.
type RecentExecutions struct{ M *Memory }

// ListRecent returns results newest first, paged by opts.
func (r RecentExecutions) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	events := r.M.Events(domain.EventExecutionResult)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []domain.ExecutionResult
	skipped := 0
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if events[i].Result == nil {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, *events[i].Result)
	}
	return out, nil
}

// GetByID returns the buffered result with id.
func (r RecentExecutions) GetByID(_ context.Context, id string) (domain.ExecutionResult, error) {
	for _, ev := range r.M.Events(domain.EventExecutionResult) {
		if ev.Result != nil && ev.Result.ID == id {
			return *ev.Result, nil
		}
	}
	return domain.ExecutionResult{}, fmt.Errorf("sink: result %s: %w", id, domain.ErrNotFound)
}
