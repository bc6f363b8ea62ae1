package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// MemoryIntents is a process-local IntentStore used when no database is
// configured. It offers no crash recovery.
type MemoryIntents struct {
	mu   sync.Mutex
	rows map[string]domain.Intent
}

var _ domain.IntentStore = (*MemoryIntents)(nil)

// NewMemoryIntents creates an empty store.
func NewMemoryIntents() *MemoryIntents {
	return &MemoryIntents{rows: make(map[string]domain.Intent)}
}

func (m *MemoryIntents) Create(_ context.Context, in domain.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[in.UnitID]; ok {
		return fmt.Errorf("intents: create %s: %w", in.UnitID, domain.ErrAlreadyExists)
	}
	m.rows[in.UnitID] = in
	return nil
}

func (m *MemoryIntents) Transition(_ context.Context, unitID string, from, to domain.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[unitID]
	if !ok {
		return fmt.Errorf("intents: transition %s: %w", unitID, domain.ErrNotFound)
	}
	if in.State != from {
		return fmt.Errorf("intents: transition %s: state is %s, not %s", unitID, in.State, from)
	}
	in.State = to
	in.UpdatedAt = time.Now()
	m.rows[unitID] = in
	return nil
}

func (m *MemoryIntents) Get(_ context.Context, unitID string) (domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[unitID]
	if !ok {
		return domain.Intent{}, fmt.Errorf("intents: get %s: %w", unitID, domain.ErrNotFound)
	}
	return in, nil
}

func (m *MemoryIntents) ListOpen(context.Context) ([]domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Intent
	for _, in := range m.rows {
		if !in.State.Terminal() {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
