package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"oracle-resolver/internal/resolver"
)

// MemoryOutcomeLog keeps the resolution log in process. It backs the CLI
// when no database is configured.
type MemoryOutcomeLog struct {
	mu      sync.RWMutex
	entries []resolver.LogEntry
}

// NewMemoryOutcomeLog builds an empty log.
func NewMemoryOutcomeLog() *MemoryOutcomeLog {
	return &MemoryOutcomeLog{}
}

func (m *MemoryOutcomeLog) AppendOutcome(_ context.Context, entry resolver.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// ListOutcomesBetween lists entries recorded in [from, to) oldest first.
func (m *MemoryOutcomeLog) ListOutcomesBetween(_ context.Context, from, to time.Time) ([]resolver.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]resolver.LogEntry, 0)
	for _, e := range m.entries {
		if !e.RecordedAt.Before(from) && e.RecordedAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// ListRecentOutcomes lists up to limit entries newest first.
func (m *MemoryOutcomeLog) ListRecentOutcomes(_ context.Context, limit int) ([]resolver.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]resolver.LogEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		out = append(out, m.entries[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ OutcomeStore = (*MemoryOutcomeLog)(nil)
