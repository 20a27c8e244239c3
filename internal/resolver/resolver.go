// Package resolver turns a price condition into a market decision.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/pricefeed"
)

// Verdict is the market outcome.
type Verdict string

const (
	Yes        Verdict = "YES"
	No         Verdict = "NO"
	Unresolved Verdict = "UNRESOLVED"
)

// Reasons attached to undecided outcomes.
const (
	ReasonTimeNotReached = "resolution time not reached"
	ReasonStaleData      = "stale data"
)

// Condition is the caller supplied resolution rule of a market.
type Condition struct {
	MarketID       string
	Symbol         string
	TargetPrice    decimal.Decimal
	Comparison     pricefeed.Comparison
	ResolutionTime *time.Time
}

// Outcome is the result of one resolution attempt. Resolved=false always
// carries Unresolved.
type Outcome struct {
	MarketID    string               `json:"marketId"`
	Symbol      string               `json:"symbol"`
	Resolved    bool                 `json:"resolved"`
	Outcome     Verdict              `json:"outcome"`
	FinalPrice  decimal.NullDecimal  `json:"finalPrice"`
	TargetPrice decimal.Decimal      `json:"targetPrice"`
	Comparison  pricefeed.Comparison `json:"comparisonType"`
	ResolvedAt  *time.Time           `json:"resolvedAt,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// LogEntry is one audited decision.
type LogEntry struct {
	Outcome
	RecordedAt time.Time
}

// OutcomeLog records every decision, resolved or not.
type OutcomeLog interface {
	AppendOutcome(ctx context.Context, entry LogEntry) error
}

// PriceValidator is the part of the price oracle the resolver consumes.
type PriceValidator interface {
	ValidatePriceForMarket(ctx context.Context, symbol string, target decimal.Decimal, cmp pricefeed.Comparison) (pricefeed.Validation, error)
}

// Resolver applies price conditions. It holds no mutable state and is safe
// for concurrent use.
type Resolver struct {
	prices PriceValidator
	clock  clock.Clock
	log    OutcomeLog
	logger zerolog.Logger
}

// New constructs a Resolver. log may be nil.
func New(prices PriceValidator, clk clock.Clock, log OutcomeLog, logger zerolog.Logger) *Resolver {
	return &Resolver{
		prices: prices,
		clock:  clk,
		log:    log,
		logger: logger.With().Str("component", "price_resolver").Logger(),
	}
}

// Resolve runs the time gate, then the staleness gate, then decides. Gate
// hits are returned as unresolved outcomes, not errors.
func (r *Resolver) Resolve(ctx context.Context, cond Condition) (Outcome, error) {
	if err := validate(&cond); err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		MarketID:    cond.MarketID,
		Symbol:      cond.Symbol,
		Outcome:     Unresolved,
		TargetPrice: cond.TargetPrice,
		Comparison:  cond.Comparison,
	}

	now := r.clock.Now()
	if cond.ResolutionTime != nil && now.Before(*cond.ResolutionTime) {
		out.Reason = ReasonTimeNotReached
		r.record(ctx, out, now)
		return out, nil
	}

	v, err := r.prices.ValidatePriceForMarket(ctx, cond.Symbol, cond.TargetPrice, cond.Comparison)
	switch {
	case errors.Is(err, pricefeed.ErrStaleData):
		out.Reason = ReasonStaleData
		r.record(ctx, out, now)
		return out, nil
	case err != nil:
		return Outcome{}, err
	}

	resolvedAt := v.UpdatedAt
	out.Resolved = true
	out.Outcome = No
	if v.ConditionMet {
		out.Outcome = Yes
	}
	out.FinalPrice = decimal.NewNullDecimal(v.CurrentPrice)
	out.ResolvedAt = &resolvedAt
	r.record(ctx, out, now)
	return out, nil
}

func (r *Resolver) record(ctx context.Context, out Outcome, now time.Time) {
	evt := r.logger.Info()
	if !out.Resolved {
		evt = r.logger.Debug()
	}
	evt.Str("market", out.MarketID).
		Str("symbol", out.Symbol).
		Str("outcome", string(out.Outcome)).
		Str("reason", out.Reason).
		Msg("market resolution evaluated")

	if r.log == nil {
		return
	}
	if err := r.log.AppendOutcome(ctx, LogEntry{Outcome: out, RecordedAt: now}); err != nil {
		r.logger.Error().Err(err).Str("market", out.MarketID).Msg("failed to append resolution log")
	}
}

func validate(cond *Condition) error {
	cond.MarketID = strings.TrimSpace(cond.MarketID)
	cond.Symbol = strings.ToUpper(strings.TrimSpace(cond.Symbol))
	if cond.MarketID == "" {
		return apierr.Validation("market id is required")
	}
	if cond.Symbol == "" {
		return apierr.Validation("symbol is required")
	}
	if cond.Comparison != pricefeed.Above && cond.Comparison != pricefeed.Below {
		return apierr.Validation("comparison type must be ABOVE or BELOW, got %q", cond.Comparison)
	}
	if cond.TargetPrice.IsNegative() {
		return apierr.Validation("target price must not be negative")
	}
	return nil
}
