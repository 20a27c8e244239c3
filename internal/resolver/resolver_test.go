package resolver

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/feeds"
	"oracle-resolver/internal/fetcher"
	"oracle-resolver/internal/pricefeed"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type staticReader struct {
	answer *big.Int
	at     time.Time
}

func (s staticReader) LatestRound(context.Context, string) (fetcher.Round, error) {
	return fetcher.Round{RoundID: big.NewInt(1), Answer: s.answer, Decimals: 8, UpdatedAt: s.at}, nil
}

type countingValidator struct {
	calls int
	res   pricefeed.Validation
	err   error
}

func (c *countingValidator) ValidatePriceForMarket(context.Context, string, decimal.Decimal, pricefeed.Comparison) (pricefeed.Validation, error) {
	c.calls++
	return c.res, c.err
}

type memoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
	err     error
}

func (m *memoryLog) AppendOutcome(_ context.Context, e LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func oracleAt(updated time.Time, clk clock.Clock) *pricefeed.Oracle {
	reader := staticReader{answer: big.NewInt(200000000000), at: updated}
	return pricefeed.New(feeds.Default(0), reader, clk, nil, pricefeed.Options{}, zerolog.Nop())
}

func ethAbove(target string) Condition {
	return Condition{
		MarketID:    "m1",
		Symbol:      "ETH/USD",
		TargetPrice: decimal.RequireFromString(target),
		Comparison:  pricefeed.Above,
	}
}

func TestResolveFreshPrice(t *testing.T) {
	clk := clock.NewManual(testNow)
	log := &memoryLog{}
	r := New(oracleAt(testNow.Add(-time.Minute), clk), clk, log, zerolog.Nop())

	out, err := r.Resolve(context.Background(), ethAbove("1800"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Resolved || out.Outcome != Yes {
		t.Fatalf("expected YES, got %+v", out)
	}
	if !out.FinalPrice.Valid || !out.FinalPrice.Decimal.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("final price = %v", out.FinalPrice)
	}
	if out.ResolvedAt == nil || !out.ResolvedAt.Equal(testNow.Add(-time.Minute)) {
		t.Fatalf("resolvedAt should be the observation time, got %v", out.ResolvedAt)
	}
	if len(log.entries) != 1 || !log.entries[0].RecordedAt.Equal(testNow) {
		t.Fatalf("decision not audited: %+v", log.entries)
	}

	out, err = r.Resolve(context.Background(), ethAbove("2500"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Resolved || out.Outcome != No {
		t.Fatalf("expected NO, got %+v", out)
	}
}

func TestResolveStaleIsUnresolvedAndRepeatable(t *testing.T) {
	clk := clock.NewManual(testNow)
	r := New(oracleAt(testNow.Add(-7200*time.Second), clk), clk, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		out, err := r.Resolve(context.Background(), ethAbove("1800"))
		if err != nil {
			t.Fatalf("stale data is a policy outcome, not an error: %v", err)
		}
		if out.Resolved || out.Outcome != Unresolved || out.Reason != ReasonStaleData {
			t.Fatalf("attempt %d: %+v", i, out)
		}
		if out.FinalPrice.Valid || out.ResolvedAt != nil {
			t.Fatalf("unresolved outcome must not carry a final price: %+v", out)
		}
	}
}

func TestTimeGateSkipsFeed(t *testing.T) {
	clk := clock.NewManual(testNow)
	v := &countingValidator{err: errors.New("feed must not be read")}
	log := &memoryLog{}
	r := New(v, clk, log, zerolog.Nop())

	future := testNow.Add(time.Hour)
	cond := ethAbove("1")
	cond.ResolutionTime = &future

	out, err := r.Resolve(context.Background(), cond)
	if err != nil {
		t.Fatal(err)
	}
	if out.Resolved || out.Outcome != Unresolved || out.Reason != ReasonTimeNotReached {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if v.calls != 0 {
		t.Fatalf("time gate must short-circuit, feed read %d times", v.calls)
	}
	if len(log.entries) != 1 {
		t.Fatal("gated attempts are audited too")
	}

	clk.Set(future)
	v.err = nil
	v.res = pricefeed.Validation{CurrentPrice: decimal.NewFromInt(3), ConditionMet: true, UpdatedAt: future}
	out, err = r.Resolve(context.Background(), cond)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Resolved || out.Outcome != Yes {
		t.Fatalf("resolution time reached exactly should resolve: %+v", out)
	}
}

func TestFetchFailuresPropagate(t *testing.T) {
	clk := clock.NewManual(testNow)
	timeout := apierr.Wrap(apierr.CodeServiceUnavailable, context.DeadlineExceeded, "feed read timed out")
	r := New(&countingValidator{err: timeout}, clk, nil, zerolog.Nop())

	_, err := r.Resolve(context.Background(), ethAbove("1800"))
	if !apierr.Retryable(err) {
		t.Fatalf("expected retryable external error, got %v", err)
	}

	r = New(oracleAt(testNow, clk), clk, nil, zerolog.Nop())
	cond := ethAbove("1800")
	cond.Symbol = "NOPE/USD"
	if _, err := r.Resolve(context.Background(), cond); !errors.Is(err, feeds.ErrFeedNotFound) {
		t.Fatalf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestAuditFailureDoesNotFailResolution(t *testing.T) {
	clk := clock.NewManual(testNow)
	log := &memoryLog{err: errors.New("db down")}
	r := New(oracleAt(testNow, clk), clk, log, zerolog.Nop())

	out, err := r.Resolve(context.Background(), ethAbove("1800"))
	if err != nil || !out.Resolved {
		t.Fatalf("audit failure leaked: %v %+v", err, out)
	}
}

func TestResolveValidatesInput(t *testing.T) {
	r := New(&countingValidator{}, clock.NewManual(testNow), nil, zerolog.Nop())
	cases := map[string]Condition{
		"missing market": {Symbol: "ETH/USD", Comparison: pricefeed.Above},
		"missing symbol": {MarketID: "m1", Comparison: pricefeed.Above},
		"bad comparison": {MarketID: "m1", Symbol: "ETH/USD", Comparison: "EQUAL"},
		"negative target": {MarketID: "m1", Symbol: "ETH/USD", Comparison: pricefeed.Below,
			TargetPrice: decimal.NewFromInt(-1)},
	}
	for name, cond := range cases {
		if _, err := r.Resolve(context.Background(), cond); !apierr.IsKind(err, apierr.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}
