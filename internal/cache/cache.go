// Package cache provides a small TTL cache abstraction with in-memory and
// Redis implementations. Values are opaque bytes; callers own encoding.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores values for a fixed TTL.
type Cache interface {
	// Get returns the value and true on a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, key string) error
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Cache. Expired items are dropped lazily on
// access and by Sweep.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory creates a memory cache. A nil now uses time.Now.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]memoryItem), ttl: ttl, now: now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(it.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, expires: m.now().Add(m.ttl)}
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Sweep removes expired items and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, it := range m.items {
		if !now.Before(it.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored items, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Invalidate(context.Context, string) error          { return nil }
