package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"faceattend/internal/clock"
	"faceattend/internal/metrics"
)

type memItem struct {
	entries []Entry
	expires time.Time
}

// Memory is an in-process cache with per-key expiry.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memItem
	gens  Generations
	ttl   time.Duration
	clock clock.Clock
}

// NewMemory builds an in-process cache. A nil clock means wall time.
func NewMemory(ttl time.Duration, c clock.Clock) *Memory {
	return &Memory{items: make(map[string]memItem), gens: make(Generations), ttl: ttlOr(ttl, DefaultTTL), clock: clock.OrReal(c)}
}

func (m *Memory) lookup(key string, now time.Time) ([]Entry, bool) {
	it, ok := m.items[key]
	if !ok || !now.Before(it.expires) {
		return nil, false
	}
	return cloneEntries(it.entries), true
}

func (m *Memory) Get(_ context.Context, key string) ([]Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.lookup(key, m.clock.Now())
	metrics.CacheRequests.WithLabelValues(hitLabel(ok)).Inc()
	return entries, ok
}

func (m *Memory) GetMany(_ context.Context, keys []string) map[string][]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	out := make(map[string][]Entry, len(keys))
	for _, k := range keys {
		entries, ok := m.lookup(k, now)
		metrics.CacheRequests.WithLabelValues(hitLabel(ok)).Inc()
		if ok {
			out[k] = entries
		}
	}
	return out
}

func (m *Memory) Put(_ context.Context, key string, entries []Entry, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{entries: cloneEntries(entries), expires: m.clock.Now().Add(ttlOr(ttl, m.ttl))}
}

func (m *Memory) Snapshot(_ context.Context, keys []string) Generations {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Generations, len(keys))
	for _, k := range keys {
		out[k] = m.gens[k]
	}
	return out
}

// PutBatch applies the whole batch under one lock.
func (m *Memory) PutBatch(_ context.Context, batch map[string][]Entry, seen Generations, ttl time.Duration) {
	if seen == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	expires := m.clock.Now().Add(ttlOr(ttl, m.ttl))
	for k, entries := range batch {
		if m.gens[k] != seen[k] {
			continue
		}
		m.items[k] = memItem{entries: cloneEntries(entries), expires: expires}
	}
}

func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	m.gens[key]++
}

func (m *Memory) Keys(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	keys := make([]string, 0, len(m.items))
	for k, it := range m.items {
		if now.Before(it.expires) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	n := 0
	for _, it := range m.items {
		if now.Before(it.expires) {
			n++
		}
	}
	m.items = make(map[string]memItem)
	return n, nil
}

func hitLabel(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
