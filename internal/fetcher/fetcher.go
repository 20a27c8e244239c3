package fetcher

import (
	"context"
	"math/big"
	"time"
)

// Round is the latest answer reported by an aggregator.
type Round struct {
	RoundID   *big.Int
	Answer    *big.Int
	Decimals  uint8
	StartedAt time.Time
	UpdatedAt time.Time
}

// RoundReader reads the latest round of a price feed contract.
type RoundReader interface {
	LatestRound(ctx context.Context, feedAddress string) (Round, error)
}
