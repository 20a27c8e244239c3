// Package gateway dispatches a resolution to the oracle strategy named by
// the caller.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/pricefeed"
	"oracle-resolver/internal/resolver"
)

const tracerName = "oracle-resolver/internal/gateway"

// OracleType selects a resolution strategy.
type OracleType string

const (
	PriceFeed  OracleType = "PRICE_FEED"
	Optimistic OracleType = "OPTIMISTIC"
)

// ErrUnsupportedOracleType is returned for any other tag.
var ErrUnsupportedOracleType = apierr.New(apierr.CodeUnsupportedOracle, "unsupported oracle type")

// PriceParams is the condition of a PRICE_FEED resolution.
type PriceParams struct {
	Symbol         string
	TargetPrice    decimal.Decimal
	Comparison     pricefeed.Comparison
	ResolutionTime *time.Time
}

// Params carries strategy specific inputs.
type Params struct {
	Price *PriceParams
}

// Resolution is the tagged result: Outcome for PRICE_FEED, Request for OPTIMISTIC.
type Resolution struct {
	OracleType OracleType                `json:"oracleType"`
	Outcome    *resolver.Outcome         `json:"outcome,omitempty"`
	Request    *optimistic.OracleRequest `json:"request,omitempty"`
}

// PriceResolver resolves price conditions.
type PriceResolver interface {
	Resolve(ctx context.Context, cond resolver.Condition) (resolver.Outcome, error)
}

// Settler settles optimistic requests.
type Settler interface {
	SettleMarket(ctx context.Context, marketID string) (optimistic.OracleRequest, error)
}

// Gateway holds no state of its own.
type Gateway struct {
	prices  PriceResolver
	settler Settler
	logger  zerolog.Logger
}

// New constructs a Gateway.
func New(prices PriceResolver, settler Settler, logger zerolog.Logger) *Gateway {
	return &Gateway{
		prices:  prices,
		settler: settler,
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

// Resolve dispatches on oracleType.
func (g *Gateway) Resolve(ctx context.Context, marketID string, oracleType OracleType, params Params) (Resolution, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("market.id", marketID),
			attribute.String("oracle.type", string(oracleType)),
		),
	)
	defer span.End()

	res, err := g.dispatch(ctx, marketID, oracleType, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apierr.Classify(err).Code))
		g.logger.Debug().Err(err).Str("market", marketID).Str("oracle_type", string(oracleType)).Msg("resolution failed")
		return Resolution{}, err
	}
	if res.Outcome != nil {
		span.SetAttributes(attribute.String("resolution.outcome", string(res.Outcome.Outcome)))
	}
	if res.Request != nil {
		span.SetAttributes(attribute.String("resolution.state", string(res.Request.State)))
	}
	return res, nil
}

func (g *Gateway) dispatch(ctx context.Context, marketID string, oracleType OracleType, params Params) (Resolution, error) {
	switch OracleType(strings.ToUpper(strings.TrimSpace(string(oracleType)))) {
	case PriceFeed:
		if params.Price == nil {
			return Resolution{}, apierr.Validation("price parameters are required for %s", PriceFeed)
		}
		out, err := g.prices.Resolve(ctx, resolver.Condition{
			MarketID:       marketID,
			Symbol:         params.Price.Symbol,
			TargetPrice:    params.Price.TargetPrice,
			Comparison:     params.Price.Comparison,
			ResolutionTime: params.Price.ResolutionTime,
		})
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{OracleType: PriceFeed, Outcome: &out}, nil
	case Optimistic:
		req, err := g.settler.SettleMarket(ctx, marketID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{OracleType: Optimistic, Request: &req}, nil
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedOracleType, oracleType)
}
