package store

import (
	"fmt"
	"sort"
	"sync"

	"ilp-connector/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	peers  map[string]model.PeerRecord
	routes map[string]model.Route
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		peers:  make(map[string]model.PeerRecord),
		routes: make(map[string]model.Route),
	}
}

func (m *MemoryStore) ListPeers() ([]model.PeerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PeerRecord, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out, nil
}

func (m *MemoryStore) SavePeer(p model.PeerRecord) error {
	if p.Info.ID == "" {
		return fmt.Errorf("peer id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.Info.ID] = p
	return nil
}

func (m *MemoryStore) DeletePeer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; !ok {
		return fmt.Errorf("peer %s: %w", id, ErrNotFound)
	}
	delete(m.peers, id)
	for prefix, r := range m.routes {
		if r.PeerID == id {
			delete(m.routes, prefix)
		}
	}
	return nil
}

func (m *MemoryStore) ListRoutes() ([]model.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

func (m *MemoryStore) SaveRoute(r model.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.Prefix] = r
	return nil
}

func (m *MemoryStore) DeleteRoute(prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[prefix]; !ok {
		return fmt.Errorf("route %q: %w", prefix, ErrNotFound)
	}
	delete(m.routes, prefix)
	return nil
}

// Ping reports readiness for health endpoints.
func (m *MemoryStore) Ping() error { return nil }
