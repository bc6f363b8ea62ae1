package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// InFlight bounds concurrent executions globally and serializes them per
// asset. With a LockManager the per-asset exclusion also spans processes.
type InFlight struct {
	mu      sync.Mutex
	max     int
	active  map[domain.AssetID]struct{}
	locks   domain.LockManager
	lockTTL time.Duration
}

// NewInFlight creates a tracker with max global slots. locks may be nil.
func NewInFlight(max int, locks domain.LockManager, lockTTL time.Duration) *InFlight {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &InFlight{
		max:     max,
		active:  make(map[domain.AssetID]struct{}),
		locks:   locks,
		lockTTL: lockTTL,
	}
}

// SetMax changes the global slot count. Running executions are unaffected.
func (f *InFlight) SetMax(n int) {
	f.mu.Lock()
	f.max = n
	f.mu.Unlock()
}

// Active returns the number of executions holding a slot.
func (f *InFlight) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// Busy reports whether asset currently holds a slot.
func (f *InFlight) Busy(asset domain.AssetID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[asset]
	return ok
}

// Acquire reserves a slot for asset. The returned release must be called
// exactly once.
func (f *InFlight) Acquire(ctx context.Context, asset domain.AssetID) (func(), error) {
	f.mu.Lock()
	if _, busy := f.active[asset]; busy {
		f.mu.Unlock()
		return nil, domain.ValidationError(domain.ErrAssetBusy, nil, "%s already executing", asset)
	}
	if len(f.active) >= f.max {
		f.mu.Unlock()
		return nil, domain.ValidationError(domain.ErrCapacityExhausted, nil, "%d executions in flight", f.max)
	}
	f.active[asset] = struct{}{}
	f.mu.Unlock()

	free := func() {
		f.mu.Lock()
		delete(f.active, asset)
		f.mu.Unlock()
	}

	if f.locks == nil {
		return sync.OnceFunc(free), nil
	}
	unlock, err := f.locks.Acquire(ctx, "flasharb:asset:"+string(asset), f.lockTTL)
	if err != nil {
		free()
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ValidationError(domain.ErrAssetBusy, err, "%s locked by another process", asset)
		}
		return nil, domain.ValidationError(domain.ErrAssetBusy, err, "lock %s", asset)
	}
	return sync.OnceFunc(func() {
		unlock()
		free()
	}), nil
}
