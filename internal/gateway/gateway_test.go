package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/pricefeed"
	"oracle-resolver/internal/resolver"
)

type stubResolver struct {
	got  resolver.Condition
	hits int
}

func (s *stubResolver) Resolve(_ context.Context, cond resolver.Condition) (resolver.Outcome, error) {
	s.got = cond
	s.hits++
	return resolver.Outcome{MarketID: cond.MarketID, Resolved: true, Outcome: resolver.Yes}, nil
}

type stubSettler struct {
	hits int
	err  error
}

func (s *stubSettler) SettleMarket(_ context.Context, marketID string) (optimistic.OracleRequest, error) {
	s.hits++
	if s.err != nil {
		return optimistic.OracleRequest{}, s.err
	}
	return optimistic.OracleRequest{MarketID: marketID, State: optimistic.StateSettled}, nil
}

func TestPriceFeedDispatch(t *testing.T) {
	r, s := &stubResolver{}, &stubSettler{}
	g := New(r, s, zerolog.Nop())

	res, err := g.Resolve(context.Background(), "m1", "price_feed", Params{Price: &PriceParams{
		Symbol:      "ETH/USD",
		TargetPrice: decimal.NewFromInt(1800),
		Comparison:  pricefeed.Above,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if res.OracleType != PriceFeed || res.Outcome == nil || res.Request != nil {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if r.got.MarketID != "m1" || r.got.Symbol != "ETH/USD" || s.hits != 0 {
		t.Fatalf("dispatch mismatch: %+v settler hits %d", r.got, s.hits)
	}
}

func TestPriceFeedRequiresParams(t *testing.T) {
	g := New(&stubResolver{}, &stubSettler{}, zerolog.Nop())
	_, err := g.Resolve(context.Background(), "m1", PriceFeed, Params{})
	if !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOptimisticDispatchSettles(t *testing.T) {
	r, s := &stubResolver{}, &stubSettler{}
	g := New(r, s, zerolog.Nop())

	res, err := g.Resolve(context.Background(), "m1", Optimistic, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Request == nil || res.Request.State != optimistic.StateSettled || r.hits != 0 {
		t.Fatalf("unexpected resolution %+v", res)
	}

	s.err = optimistic.ErrInvalidState
	if _, err := g.Resolve(context.Background(), "m1", Optimistic, Params{}); !errors.Is(err, optimistic.ErrInvalidState) {
		t.Fatalf("settle error should propagate, got %v", err)
	}
}

func TestUnsupportedOracleType(t *testing.T) {
	r, s := &stubResolver{}, &stubSettler{}
	g := New(r, s, zerolog.Nop())

	for _, tag := range []OracleType{"", "CHAINLINK_FUNCTIONS", "uma"} {
		_, err := g.Resolve(context.Background(), "m1", tag, Params{})
		if !errors.Is(err, ErrUnsupportedOracleType) {
			t.Fatalf("%q: expected ErrUnsupportedOracleType, got %v", tag, err)
		}
		if c := apierr.Classify(err); c.Code != apierr.CodeUnsupportedOracle || c.HTTPStatus() != 400 {
			t.Fatalf("%q: classified as %s", tag, c.Code)
		}
	}
	if r.hits+s.hits != 0 {
		t.Fatal("unsupported tags must not reach a strategy")
	}
}
