package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Registry holds the enabled venue adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.VenueID]Adapter
}

// NewRegistry creates a registry from adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.VenueID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns the adapter for id.
func (r *Registry) Get(id domain.VenueID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("venue: %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// All returns the adapters sorted by id.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Restrict returns the subset of adapters named in ids, in ids order.
// Unknown ids are skipped.
func (r *Registry) Restrict(ids []domain.VenueID) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.adapters[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Pairs returns every ordered (buy, sell) combination of distinct venues.
func Pairs(adapters []Adapter) []domain.VenuePair {
	out := make([]domain.VenuePair, 0, len(adapters)*(len(adapters)-1))
	for _, b := range adapters {
		for _, s := range adapters {
			if b.ID() != s.ID() {
				out = append(out, domain.VenuePair{Buy: b.ID(), Sell: s.ID()})
			}
		}
	}
	return out
}
