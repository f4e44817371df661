package storage

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ErrKeyNotFound is wrapped by Get when nothing is stored under a key.
var ErrKeyNotFound = errors.New("key not found")

// Store is a flat key/value namespace for shard snapshots. Implementations
// are safe for concurrent use and never alias the caller's byte slices.
type Store interface {
	// Get returns the record under key, or an error wrapping ErrKeyNotFound.
	Get(key string) ([]byte, error)
	// Put replaces the record under key. Empty keys are rejected.
	Put(key string, value []byte) error
	// Delete drops key. Deleting a missing key is not an error.
	Delete(key string) error
	// List returns every key in ascending order.
	List() []string
	Stats() StoreStats
}

// StoreStats sizes a Store.
type StoreStats struct {
	Keys  int
	Bytes int // sum of record lengths
}

func (s StoreStats) String() string {
	return humanize.Comma(int64(s.Keys)) + " keys, " + humanize.IBytes(uint64(s.Bytes))
}

// MemoryStore keeps records in a map. The zero value is not usable; call
// NewMemoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.records[key]; ok {
		return slices.Clone(v), nil
	}
	return nil, errors.Wrap(ErrKeyNotFound, key)
}

func (m *MemoryStore) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("empty key")
	}
	v := slices.Clone(value)
	if v == nil {
		v = []byte{}
	}
	m.mu.Lock()
	m.records[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := StoreStats{Keys: len(m.records)}
	for _, v := range m.records {
		st.Bytes += len(v)
	}
	return st
}
