package objectstore

import (
	"fmt"
	"sync"

	"medguard/internal/guard"
)

// MemoryStore is an in-memory ObjectStore, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	objects map[string][]byte // digest -> payload
	puts    int
	mu      sync.RWMutex
}

var _ guard.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// PutIfAbsent stores a copy of payload unless digest is already present.
func (m *MemoryStore) PutIfAbsent(digest string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[digest]; ok {
		return nil
	}
	m.objects[digest] = append([]byte(nil), payload...)
	m.puts++
	return nil
}

// Get returns a copy of the payload stored under digest.
func (m *MemoryStore) Get(digest string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", guard.ErrObjectNotFound, digest)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Has(digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[digest]
	return ok, nil
}

func (m *MemoryStore) Stats() (guard.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := guard.StoreStats{Objects: int64(len(m.objects))}
	for _, data := range m.objects {
		stats.Bytes += int64(len(data))
	}
	return stats, nil
}

// Puts returns how many objects were actually written.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Delete removes an object. Tests use it to simulate a lost block.
func (m *MemoryStore) Delete(digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, digest)
}

// Replace overwrites an object. Tests use it to simulate a corrupted block.
func (m *MemoryStore) Replace(digest string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[digest] = append([]byte(nil), payload...)
}
