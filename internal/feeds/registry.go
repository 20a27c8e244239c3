package feeds

import (
	"fmt"
	"strings"

	"oracle-resolver/internal/apierr"
)

const (
	// DefaultHeartbeatSeconds applies to feeds without an explicit override.
	DefaultHeartbeatSeconds int64 = 3600
	// StablecoinHeartbeatSeconds is the relaxed heartbeat of USD-pegged feeds.
	StablecoinHeartbeatSeconds int64 = 86400

	// NetworkPolygon is the network of the compiled-in catalog.
	NetworkPolygon = "Polygon"
)

// ErrFeedNotFound is returned for symbols outside the catalog.
var ErrFeedNotFound = apierr.New(apierr.CodeFeedNotFound, "price feed not available")

// Descriptor identifies one Chainlink aggregator.
type Descriptor struct {
	Symbol           string `json:"symbol"`
	Address          string `json:"address"`
	Decimals         uint8  `json:"decimals"`
	HeartbeatSeconds int64  `json:"heartbeatSeconds"`
	Network          string `json:"network"`
}

// Entry is a catalog row; a zero HeartbeatSeconds takes the registry default.
type Entry struct {
	Symbol           string
	Address          string
	Decimals         uint8
	HeartbeatSeconds int64
}

// Registry is an immutable symbol index. Safe for concurrent reads.
type Registry struct {
	ordered []Descriptor
	index   map[string]int
}

// New validates entries and builds a registry.
func New(network string, defaultHeartbeat int64, entries []Entry) (*Registry, error) {
	if defaultHeartbeat <= 0 {
		return nil, fmt.Errorf("default heartbeat must be positive, got %d", defaultHeartbeat)
	}

	r := &Registry{
		ordered: make([]Descriptor, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		symbol := normalize(e.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("feed entry with empty symbol")
		}
		if _, dup := r.index[symbol]; dup {
			return nil, fmt.Errorf("duplicate feed symbol %s", symbol)
		}
		if e.Address == "" {
			return nil, fmt.Errorf("feed %s has no address", symbol)
		}

		heartbeat := e.HeartbeatSeconds
		if heartbeat == 0 {
			heartbeat = defaultHeartbeat
		}
		if heartbeat < 0 {
			return nil, fmt.Errorf("feed %s heartbeat must be positive", symbol)
		}

		r.index[symbol] = len(r.ordered)
		r.ordered = append(r.ordered, Descriptor{
			Symbol:           symbol,
			Address:          e.Address,
			Decimals:         e.Decimals,
			HeartbeatSeconds: heartbeat,
			Network:          network,
		})
	}
	return r, nil
}

// Lookup resolves a symbol, case-insensitively.
func (r *Registry) Lookup(symbol string) (Descriptor, error) {
	i, ok := r.index[normalize(symbol)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w for %s", ErrFeedNotFound, symbol)
	}
	return r.ordered[i], nil
}

// List returns all descriptors in catalog order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
