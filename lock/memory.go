// ABOUTME: In-process lock store with TTL expiry
// ABOUTME: Used for single-instance runs and tests
package lock

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// liveLocked reports whether key exists and has not expired, dropping it if
// it has.
func (m *MemoryStore) liveLocked(key string) bool {
	expiresAt, ok := m.entries[key]
	if !ok {
		return false
	}
	if !m.now().Before(expiresAt) {
		delete(m.entries, key)
		return false
	}
	return true
}

func (m *MemoryStore) SetNX(_ context.Context, key, _ string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked(key) {
		return false, nil
	}
	m.entries[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, _ string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
