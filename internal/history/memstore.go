package history

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-process Store. It keeps nothing across restarts and is
// meant for tests and throwaway sessions.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (m *MemStore) Insert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.NodeID]; ok {
		return ErrExists
	}
	if rec.ParentID != nil {
		if _, ok := m.records[*rec.ParentID]; !ok {
			return ErrNotFound
		}
	}
	m.records[rec.NodeID] = copyRecord(rec)
	m.order = append(m.order, rec.NodeID)
	return nil
}

func (m *MemStore) CreateRoot(ctx context.Context, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.records[id].IsRoot() {
			return id, nil
		}
	}
	if _, ok := m.records[rec.NodeID]; ok {
		return "", ErrExists
	}
	rec.ParentID = nil
	m.records[rec.NodeID] = copyRecord(rec)
	m.order = append(m.order, rec.NodeID)
	return rec.NodeID, nil
}

func (m *MemStore) Get(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemStore) ReplaceRoot(ctx context.Context, id string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || !rec.IsRoot() {
		return ErrNotFound
	}
	rec.Snapshot = append([]byte(nil), snapshot...)
	m.records[id] = rec
	return nil
}

func (m *MemStore) Roots(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roots []string
	for _, id := range m.order {
		if m.records[id].IsRoot() {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots, nil
}

func (m *MemStore) All(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyRecord(m.records[id]))
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }

func copyRecord(r Record) Record {
	c := Record{NodeID: r.NodeID, Snapshot: append([]byte(nil), r.Snapshot...)}
	if r.ParentID != nil {
		p := *r.ParentID
		c.ParentID = &p
	}
	return c
}
