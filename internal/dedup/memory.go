package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps windows in process memory. Lookups share a read lock;
// mutation of a key holds only that key's lock.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

type entry struct {
	mu     sync.Mutex
	window *Window
	// removed is set under mu when Sweep drops the entry.
	removed bool
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[Key]*entry)}
}

// Observe records one match for key at event time at.
func (t *MemoryTracker) Observe(ctx context.Context, key Key, policy Policy, at time.Time) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}

	for {
		e := t.entry(key)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		var obs Observation
		e.window, obs = advance(e.window, policy, at)
		e.mu.Unlock()
		return obs, nil
	}
}

func (t *MemoryTracker) entry(key Key) *entry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; !ok {
		e = &entry{}
		t.entries[key] = e
	}
	return e
}

// Peek returns a copy of the open window for key.
func (t *MemoryTracker) Peek(key Key) (Window, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return Window{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.window == nil || e.removed {
		return Window{}, false
	}
	return *e.window, true
}

// Sweep drops windows that have expired as of now and returns how many were
// dropped. A dropped key starts a fresh window on its next match, which is
// what an expired window would do anyway.
func (t *MemoryTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for key, e := range t.entries {
		e.mu.Lock()
		if e.window == nil || e.window.Expired(now) {
			e.removed = true
			delete(t.entries, key)
			dropped++
		}
		e.mu.Unlock()
	}
	return dropped
}

// Len returns the number of tracked keys.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
