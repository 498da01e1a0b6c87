package pluginstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the default, single-process Store: a plugin-namespaced map
// guarded by one mutex. Sufficient for development and single-instance
// deployments; internal/observerstore's Redis option exists for the
// multi-replica case, but plugin storage itself only gets a SQL option
// (PostgresStore) since cross-replica KV consistency isn't this store's job.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, plugin, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.data[plugin]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemoryStore) Set(_ context.Context, plugin, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[plugin]
	if !ok {
		ns = make(map[string][]byte)
		m.data[plugin] = ns
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	ns[key] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, plugin, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[plugin]; ok {
		delete(ns, key)
	}
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, plugin, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.data[plugin]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(ns))
	for k := range ns {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, plugin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, plugin)
	return nil
}

var _ Store = (*MemoryStore)(nil)
