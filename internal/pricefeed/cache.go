package pricefeed

import (
	"context"
	"sync"
	"time"

	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/fetcher"
)

// RoundCache stores raw rounds for a bounded TTL. Staleness is always
// recomputed from the cached UpdatedAt, so a hit never hides an old round.
type RoundCache interface {
	Get(ctx context.Context, feedAddress string) (fetcher.Round, bool, error)
	Set(ctx context.Context, feedAddress string, round fetcher.Round, ttl time.Duration) error
}

type cachedRound struct {
	round   fetcher.Round
	expires time.Time
}

// MemoryCache is an in-process RoundCache.
type MemoryCache struct {
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]cachedRound
}

// NewMemoryCache builds an empty cache expiring entries against clk.
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	return &MemoryCache{clock: clk, entries: make(map[string]cachedRound)}
}

// Get returns a cached round if it has not expired.
func (m *MemoryCache) Get(_ context.Context, feedAddress string) (fetcher.Round, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[feedAddress]
	m.mu.RUnlock()
	if !ok || !m.clock.Now().Before(entry.expires) {
		return fetcher.Round{}, false, nil
	}
	return entry.round, true, nil
}

// Set stores round until now+ttl.
func (m *MemoryCache) Set(_ context.Context, feedAddress string, round fetcher.Round, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.entries[feedAddress] = cachedRound{round: round, expires: m.clock.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

var _ RoundCache = (*MemoryCache)(nil)
