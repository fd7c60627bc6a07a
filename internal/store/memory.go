package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV keeps entries in a map. Used for development and tests.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]string)}
}

var _ KV = (*MemoryKV)(nil)

func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = value
	return nil
}

func (m *MemoryKV) SetIfAbsent(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return ErrConflict
	}
	m.entries[key] = value
	return nil
}

func (m *MemoryKV) CompareAndSwap(ctx context.Context, key, old, new string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[key]
	if !ok || current != old {
		return ErrConflict
	}
	m.entries[key] = new
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Entry
	for key, value := range m.entries {
		if strings.HasPrefix(key, prefix) {
			result = append(result, Entry{Key: key, Value: value})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (m *MemoryKV) Close() error {
	return nil
}
