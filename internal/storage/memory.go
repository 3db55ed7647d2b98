package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage keeps blobs in process. Used for local runs without a storage account.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// Ensure MemoryStorage implements StorageInterface
var _ StorageInterface = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Store(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Retrieve(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", name)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
