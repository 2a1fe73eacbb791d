package totp

import "sync"

// MemoryStore is an in-memory implementation of CodeStore
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates a new in-memory code store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get retrieves the cached entry for a secret
func (m *MemoryStore) Get(secret string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[secret]
	return e, ok
}

// Put stores or overwrites the entry for a secret. Entries are never
// evicted; the map is bounded by the number of distinct secrets in use.
func (m *MemoryStore) Put(secret string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[secret] = e
	return nil
}

// Close releases resources
func (m *MemoryStore) Close() error {
	return nil
}
