package optimistic

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process RequestStore.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[Key]OracleRequest
	seq      map[Key]int
	next     int
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[Key]OracleRequest),
		seq:      make(map[Key]int),
	}
}

func (m *MemoryStore) GetRequest(_ context.Context, key Key) (OracleRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[key]
	if !ok {
		return OracleRequest{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return req, nil
}

func (m *MemoryStore) LatestRequest(_ context.Context, marketID string) (OracleRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best, bestSeq := OracleRequest{}, -1
	for key, req := range m.requests {
		if key.MarketID == marketID && m.seq[key] > bestSeq {
			best, bestSeq = req, m.seq[key]
		}
	}
	if bestSeq < 0 {
		return OracleRequest{}, fmt.Errorf("%w: market %s", ErrNotFound, marketID)
	}
	return best, nil
}

func (m *MemoryStore) SaveRequest(_ context.Context, req OracleRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := req.Key()
	current, exists := m.requests[key]
	switch {
	case expectedVersion == 0 && exists:
		return ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return ErrVersionConflict
	case exists && req.State.rank() < current.State.rank():
		return fmt.Errorf("state of %s cannot move back from %s to %s", key, current.State, req.State)
	}

	if !exists {
		m.seq[key] = m.next
		m.next++
	}
	m.requests[key] = req
	return nil
}

func (m *MemoryStore) ListRequestsByState(_ context.Context, states ...State) ([]OracleRequest, error) {
	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OracleRequest, 0)
	for _, req := range m.requests {
		if len(want) == 0 || want[req.State] {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].Key()] < m.seq[out[j].Key()]
	})
	return out, nil
}

var _ RequestStore = (*MemoryStore)(nil)
