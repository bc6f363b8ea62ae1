package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same candidate (asset, buy venue, sell venue) from
// being executed more than once within its time-to-live. It is safe for
// concurrent use.
type Dedup struct {
	seen map[string]time.Time // dedup key -> expiry
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates an empty Dedup.
func NewDedup() *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate returns true if key was recorded and its ttl has not lapsed.
// Otherwise the key is recorded for ttl and false is returned.
func (d *Dedup) IsDuplicate(key string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if until, ok := d.seen[key]; ok && now.Before(until) {
		return true
	}
	d.seen[key] = now.Add(ttl)
	return false
}

// Forget drops key so the candidate can be retried at once. Used when an
// execution was refused before any unit was opened.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries. This should be called periodically to
// prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, until := range d.seen {
		if !now.Before(until) {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of live entries.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
