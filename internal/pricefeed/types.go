package pricefeed

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
)

// ErrStaleData blocks resolution-critical reads whose round is older than the heartbeat.
var ErrStaleData = apierr.New(apierr.CodeStaleData, "price data is stale")

// Comparison is the direction of a threshold condition.
type Comparison string

const (
	Above Comparison = "ABOVE"
	Below Comparison = "BELOW"
)

// ParseComparison accepts "above"/"below" in any case.
func ParseComparison(v string) (Comparison, error) {
	switch Comparison(strings.ToUpper(strings.TrimSpace(v))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", apierr.Validation("comparison type must be ABOVE or BELOW, got %q", v)
}

// Met reports whether price satisfies the condition against target. Equality
// satisfies neither direction.
func (c Comparison) Met(price, target decimal.Decimal) bool {
	if c == Above {
		return price.GreaterThan(target)
	}
	return price.LessThan(target)
}

// Observation is a point-in-time read of one feed.
type Observation struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Decimals         uint8           `json:"decimals"`
	RoundID          string          `json:"roundId"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	FeedAddress      string          `json:"feedAddress"`
	IsStale          bool            `json:"isStale"`
	StalenessSeconds int64           `json:"staleness"`
	HeartbeatSeconds int64           `json:"heartbeat"`
}

// Validation is the result of checking a market condition against a fresh price.
type Validation struct {
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	TargetPrice  decimal.Decimal `json:"targetPrice"`
	Comparison   Comparison      `json:"comparisonType"`
	ConditionMet bool            `json:"conditionMet"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Bounds is the result of an inclusive range check.
type Bounds struct {
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	MinPrice     decimal.Decimal `json:"minPrice"`
	MaxPrice     decimal.Decimal `json:"maxPrice"`
	WithinBounds bool            `json:"withinBounds"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
