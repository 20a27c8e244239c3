package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/feeds"
	"oracle-resolver/internal/fetcher"
)

// Options tune feed reads.
type Options struct {
	RequestTimeout time.Duration
	// CacheTTL caps how long a round is reused; it is further capped by the
	// feed heartbeat. Zero disables caching.
	CacheTTL time.Duration
}

// Oracle reads Chainlink feeds known to the registry and evaluates price conditions.
type Oracle struct {
	registry *feeds.Registry
	reader   fetcher.RoundReader
	clock    clock.Clock
	cache    RoundCache
	opts     Options
	logger   zerolog.Logger

	group singleflight.Group
}

// New constructs an Oracle. cache may be nil.
func New(registry *feeds.Registry, reader fetcher.RoundReader, clk clock.Clock, cache RoundCache, opts Options, logger zerolog.Logger) *Oracle {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Oracle{
		registry: registry,
		reader:   reader,
		clock:    clk,
		cache:    cache,
		opts:     opts,
		logger:   logger.With().Str("component", "price_oracle").Logger(),
	}
}

// Feeds lists the catalog.
func (o *Oracle) Feeds() []feeds.Descriptor {
	return o.registry.List()
}

// GetPrice returns the latest observation for symbol. A stale round is
// reported through IsStale, not as an error.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (Observation, error) {
	desc, err := o.registry.Lookup(symbol)
	if err != nil {
		return Observation{}, err
	}

	round, err := o.latestRound(ctx, desc)
	if err != nil {
		return Observation{}, err
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Observation{}, apierr.Newf(apierr.CodeExternalService, "feed %s returned non-positive answer", desc.Symbol)
	}
	if round.UpdatedAt.IsZero() {
		return Observation{}, apierr.Newf(apierr.CodeExternalService, "feed %s round not complete", desc.Symbol)
	}

	age := o.clock.Now().Sub(round.UpdatedAt)
	if age < 0 {
		age = 0
	}
	heartbeat := time.Duration(desc.HeartbeatSeconds) * time.Second

	roundID := ""
	if round.RoundID != nil {
		roundID = round.RoundID.String()
	}

	return Observation{
		Symbol:           desc.Symbol,
		Price:            decimal.NewFromBigInt(round.Answer, -int32(round.Decimals)),
		Decimals:         round.Decimals,
		RoundID:          roundID,
		UpdatedAt:        round.UpdatedAt,
		FeedAddress:      desc.Address,
		IsStale:          age > heartbeat,
		StalenessSeconds: int64(age / time.Second),
		HeartbeatSeconds: desc.HeartbeatSeconds,
	}, nil
}

// ValidatePriceForMarket evaluates a threshold condition. Stale data fails
// with ErrStaleData.
func (o *Oracle) ValidatePriceForMarket(ctx context.Context, symbol string, target decimal.Decimal, cmp Comparison) (Validation, error) {
	if cmp != Above && cmp != Below {
		return Validation{}, apierr.Validation("comparison type must be ABOVE or BELOW, got %q", cmp)
	}

	obs, err := o.freshPrice(ctx, symbol)
	if err != nil {
		return Validation{}, err
	}

	return Validation{
		Symbol:       obs.Symbol,
		CurrentPrice: obs.Price,
		TargetPrice:  target,
		Comparison:   cmp,
		ConditionMet: cmp.Met(obs.Price, target),
		UpdatedAt:    obs.UpdatedAt,
	}, nil
}

// CheckPriceBounds reports whether min <= price <= max.
func (o *Oracle) CheckPriceBounds(ctx context.Context, symbol string, minPrice, maxPrice decimal.Decimal) (Bounds, error) {
	if minPrice.GreaterThan(maxPrice) {
		return Bounds{}, apierr.Validation("min price %s exceeds max price %s", minPrice, maxPrice)
	}

	obs, err := o.freshPrice(ctx, symbol)
	if err != nil {
		return Bounds{}, err
	}

	return Bounds{
		Symbol:       obs.Symbol,
		CurrentPrice: obs.Price,
		MinPrice:     minPrice,
		MaxPrice:     maxPrice,
		WithinBounds: obs.Price.GreaterThanOrEqual(minPrice) && obs.Price.LessThanOrEqual(maxPrice),
		UpdatedAt:    obs.UpdatedAt,
	}, nil
}

func (o *Oracle) freshPrice(ctx context.Context, symbol string) (Observation, error) {
	obs, err := o.GetPrice(ctx, symbol)
	if err != nil {
		return Observation{}, err
	}
	if obs.IsStale {
		return Observation{}, fmt.Errorf("%w: %s last updated %ds ago (heartbeat %ds)",
			ErrStaleData, obs.Symbol, obs.StalenessSeconds, obs.HeartbeatSeconds)
	}
	return obs, nil
}

func (o *Oracle) latestRound(ctx context.Context, desc feeds.Descriptor) (fetcher.Round, error) {
	if round, ok := o.cachedRound(ctx, desc); ok {
		return round, nil
	}

	// The shared read is detached from the first caller's cancellation and
	// bounded by RequestTimeout; each caller still stops at its own ctx.
	ch := o.group.DoChan(desc.Address, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RequestTimeout)
		defer cancel()
		return o.reader.LatestRound(readCtx, desc.Address)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fetcher.Round{}, classifyReadError(desc.Symbol, ctx.Err())
	}
	if res.Err != nil {
		o.logger.Warn().Err(res.Err).Str("symbol", desc.Symbol).Msg("feed read failed")
		return fetcher.Round{}, classifyReadError(desc.Symbol, res.Err)
	}
	round := res.Val.(fetcher.Round)
	if res.Shared {
		o.logger.Debug().Str("symbol", desc.Symbol).Msg("feed read shared with concurrent caller")
	}

	if ttl := o.cacheTTL(desc); ttl > 0 && o.cache != nil {
		if err := o.cache.Set(ctx, desc.Address, round, ttl); err != nil {
			o.logger.Warn().Err(err).Str("symbol", desc.Symbol).Msg("failed to cache feed round")
		}
	}
	return round, nil
}

func (o *Oracle) cachedRound(ctx context.Context, desc feeds.Descriptor) (fetcher.Round, bool) {
	if o.cache == nil || o.cacheTTL(desc) <= 0 {
		return fetcher.Round{}, false
	}
	round, ok, err := o.cache.Get(ctx, desc.Address)
	if err != nil {
		o.logger.Warn().Err(err).Str("symbol", desc.Symbol).Msg("feed cache lookup failed")
		return fetcher.Round{}, false
	}
	return round, ok
}

func (o *Oracle) cacheTTL(desc feeds.Descriptor) time.Duration {
	ttl := o.opts.CacheTTL
	heartbeat := time.Duration(desc.HeartbeatSeconds) * time.Second
	if ttl > heartbeat {
		ttl = heartbeat
	}
	return ttl
}

func classifyReadError(symbol string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierr.Wrap(apierr.CodeServiceUnavailable, err, fmt.Sprintf("feed read for %s timed out", symbol))
	}
	return apierr.Wrap(apierr.CodeExternalService, err, fmt.Sprintf("feed read for %s failed", symbol))
}
