package store

import (
	"sort"
	"sync"
)

// MemoryEngine keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryEngine struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{docs: make(map[string][]byte)}
}

func (m *MemoryEngine) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	data, ok := m.docs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryEngine) Put(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryEngine) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.docs, key)
	return nil
}

func (m *MemoryEngine) Update(key string, fn func([]byte, bool) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	old, ok := m.docs[key]
	data, err := fn(old, ok)
	if err != nil {
		return err
	}
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryEngine) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.docs), nil
}

func (m *MemoryEngine) Iterate(keysOnly bool, fn func(string, []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	// Stored slices are never mutated in place, so sharing them after the
	// lock is released is safe.
	snapshot := make(map[string][]byte, len(keys))
	if !keysOnly {
		for k, v := range m.docs {
			snapshot[k] = v
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
