package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/gateway"
	"oracle-resolver/internal/logging"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/pricefeed"
)

// ErrReported marks a failure whose envelope was already written.
var ErrReported = errors.New("operation failed")

// OperationFunc is one externally visible operation.
type OperationFunc func(ctx context.Context, c *Components) (any, error)

// Invoke builds the components, runs op and writes the envelope to w.
func (a *App) Invoke(ctx context.Context, w io.Writer, name string, op OperationFunc) error {
	return a.Respond(ctx, w, name, func(ctx context.Context) (any, error) {
		comps, err := a.Components(ctx)
		if err != nil {
			return nil, err
		}
		return op(ctx, comps)
	})
}

// Respond runs fn and writes its result as a JSON envelope to w. A failed
// call returns ErrReported wrapping the classified code.
func (a *App) Respond(ctx context.Context, w io.Writer, name string, fn func(ctx context.Context) (any, error)) error {
	traceID := apierr.NewTraceID()
	logger := logging.WithTrace(a.Logger, traceID).With().Str("operation", name).Logger()

	data, err := fn(ctx)

	var env apierr.Envelope
	if err != nil {
		env = apierr.Failure(err, traceID, a.Config.IsProduction(), a.clock.Now())
		evt := logger.Warn()
		if env.HTTPStatus >= 500 {
			evt = logger.Error()
		}
		evt.Err(err).Str("code", string(env.Code)).Msg("operation failed")
	} else {
		env = apierr.Success(data, a.clock.Now())
		logger.Debug().Msg("operation succeeded")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(env); encErr != nil {
		return fmt.Errorf("encode response: %w", encErr)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrReported, env.Code)
	}
	return nil
}

// GetPrice reads the latest observation of symbol.
func GetPrice(symbol string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Oracle.GetPrice(ctx, symbol)
	}
}

// ListFeeds lists the feed catalog.
func ListFeeds() OperationFunc {
	return func(_ context.Context, c *Components) (any, error) {
		return c.Oracle.Feeds(), nil
	}
}

// ValidatePrice evaluates a market condition against a fresh price.
func ValidatePrice(symbol, target, comparison string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		tgt, err := parseAmount("target price", target)
		if err != nil {
			return nil, err
		}
		cmp, err := pricefeed.ParseComparison(comparison)
		if err != nil {
			return nil, err
		}
		return c.Oracle.ValidatePriceForMarket(ctx, symbol, tgt, cmp)
	}
}

// CheckBounds tests a fresh price against an inclusive range.
func CheckBounds(symbol, minPrice, maxPrice string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		lo, err := parseAmount("min price", minPrice)
		if err != nil {
			return nil, err
		}
		hi, err := parseAmount("max price", maxPrice)
		if err != nil {
			return nil, err
		}
		return c.Oracle.CheckPriceBounds(ctx, symbol, lo, hi)
	}
}

// ResolveParams are the raw inputs of a gateway resolution.
type ResolveParams struct {
	MarketID       string
	OracleType     string
	Symbol         string
	TargetPrice    string
	Comparison     string
	ResolutionTime *time.Time
}

// Resolve dispatches a resolution through the gateway.
func Resolve(p ResolveParams) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		var params gateway.Params
		if p.Symbol != "" || p.TargetPrice != "" || p.Comparison != "" {
			tgt, err := parseAmount("target price", p.TargetPrice)
			if err != nil {
				return nil, err
			}
			cmp, err := pricefeed.ParseComparison(p.Comparison)
			if err != nil {
				return nil, err
			}
			params.Price = &gateway.PriceParams{
				Symbol:         p.Symbol,
				TargetPrice:    tgt,
				Comparison:     cmp,
				ResolutionTime: p.ResolutionTime,
			}
		}
		return c.Gateway.Resolve(ctx, p.MarketID, gateway.OracleType(p.OracleType), params)
	}
}

// RequestResolution opens an optimistic oracle request.
func RequestResolution(marketID, question string, resolutionTime time.Time) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Coordinator.RequestMarketResolution(ctx, marketID, question, resolutionTime)
	}
}

// ProposeOutcome proposes an outcome for a market.
func ProposeOutcome(marketID, outcome, evidence string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Coordinator.ProposeMarketOutcome(ctx, marketID, outcome, evidence)
	}
}

// DisputeOutcome disputes a proposal.
func DisputeOutcome(marketID, reason string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Coordinator.DisputeMarketOutcome(ctx, marketID, reason)
	}
}

// DeliverArbitration records the arbitration result of an escalated market.
func DeliverArbitration(marketID, outcome string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Coordinator.DeliverArbitrationResult(ctx, marketID, outcome)
	}
}

// Settle settles a market.
func Settle(marketID string) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		return c.Coordinator.SettleMarket(ctx, marketID)
	}
}

// RequestStatus looks a request up by its key; without an identifier it
// returns the latest request of the market.
func RequestStatus(marketID, identifier string, timestamp int64) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		var (
			req optimistic.OracleRequest
			err error
		)
		if identifier == "" {
			req, err = c.Coordinator.LatestRequest(ctx, marketID)
		} else {
			req, err = c.Coordinator.GetMarketRequest(ctx, marketID, identifier, timestamp)
		}
		if err != nil {
			return nil, err
		}
		subs, err := c.Submissions.ListSubmissions(ctx, req.MarketID)
		if err != nil {
			return nil, err
		}
		return struct {
			Request     optimistic.OracleRequest `json:"request"`
			Settleable  bool                     `json:"settleable"`
			Submissions any                      `json:"submissions"`
		}{req, c.Coordinator.Settleable(req), subs}, nil
	}
}

// OracleInfo returns the static optimistic oracle metadata.
func OracleInfo() OperationFunc {
	return func(_ context.Context, c *Components) (any, error) {
		return c.Coordinator.GetOptimisticOracleInfo(), nil
	}
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, apierr.Validation("%s must be a decimal, got %q", field, v)
	}
	return d, nil
}
