package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count      int
	resetAt    time.Time
	blockUntil time.Time
}

// MemoryStore keeps counters in process. Counters are not shared between
// replicas; use RedisStore for that.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (m *MemoryStore) CheckAndIncrement(_ context.Context, key string, p Policy, now time.Time, count bool) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	if e != nil && now.Before(e.blockUntil) {
		bu := e.blockUntil
		return Decision{ResetAt: e.resetAt, BlockedUntil: &bu}, nil
	}
	if e == nil || !e.blockUntil.IsZero() || !now.Before(e.resetAt) {
		e = &entry{resetAt: now.Add(p.Window)}
		m.entries[key] = e
	}

	if count {
		e.count++
	}
	if e.count > p.Max {
		e.blockUntil = now.Add(p.Block)
		bu := e.blockUntil
		return Decision{ResetAt: e.resetAt, BlockedUntil: &bu, JustBlocked: true}, nil
	}
	return Decision{Allowed: true, Remaining: p.Max - e.count, ResetAt: e.resetAt}, nil
}

func (m *MemoryStore) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[key]; e != nil && e.count > 0 && e.blockUntil.IsZero() {
		e.count--
	}
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops entries whose window and block have both passed.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.resetAt) && !now.Before(e.blockUntil) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
