package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/config"
	"oracle-resolver/internal/optimistic"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type okLedger struct{ n int }

func (l *okLedger) Submit(_ context.Context, call optimistic.LedgerCall) (string, error) {
	l.n++
	return "0x" + string(call.Action), nil
}

type stubLocker struct {
	acquired bool
	err      error
	released bool
}

func (s *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if s.err != nil || !s.acquired {
		return nil, false, s.err
	}
	return func() { s.released = true }, true, nil
}

func newCoordinator(t *testing.T) (*optimistic.Coordinator, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testNow)
	coord := optimistic.New(optimistic.DefaultConfig(), optimistic.NewMemoryStore(), &okLedger{}, clk, zerolog.Nop())
	return coord, clk
}

func seed(t *testing.T, coord *optimistic.Coordinator, market string) {
	t.Helper()
	ctx := context.Background()
	if _, err := coord.RequestMarketResolution(ctx, market, "question "+market, testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.ProposeMarketOutcome(ctx, market, "yes", ""); err != nil {
		t.Fatal(err)
	}
}

func testConfig(lockKey int64) *config.Config {
	cfg := &config.Config{}
	cfg.Scheduler.AdvisoryLockKey = lockKey
	return cfg
}

func TestSweepSettlesAfterLiveness(t *testing.T) {
	coord, clk := newCoordinator(t)
	seed(t, coord, "m1")
	seed(t, coord, "m2")
	if _, err := coord.DisputeMarketOutcome(context.Background(), "m2", "disagree"); err != nil {
		t.Fatal(err)
	}

	svc := New(testConfig(0), nil, coord, nil, zerolog.Nop())

	report, err := svc.Sweep(context.Background(), testNow, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Settled) != 0 {
		t.Fatalf("liveness still running, nothing should settle: %+v", report)
	}

	clk.Advance(optimistic.DefaultConfig().DisputeWindow)
	report, err = svc.Sweep(context.Background(), clk.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Settled) != 1 || report.Settled[0] != "m1" {
		t.Fatalf("settled = %v", report.Settled)
	}
	if len(report.Escalated) != 1 || report.Escalated[0] != "m2" {
		t.Fatalf("expired dispute should await arbitration, got %v", report.Escalated)
	}

	req, err := coord.LatestRequest(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if req.State != optimistic.StateSettled || req.FinalOutcome != optimistic.OutcomeYes {
		t.Fatalf("m1 = %+v", req)
	}
}

func TestSweepSettlesArbitratedRequests(t *testing.T) {
	coord, clk := newCoordinator(t)
	ctx := context.Background()
	seed(t, coord, "m1")
	if _, err := coord.DisputeMarketOutcome(ctx, "m1", "disagree"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(optimistic.DefaultConfig().DisputeWindow)
	if _, err := coord.DeliverArbitrationResult(ctx, "m1", "no"); err != nil {
		t.Fatal(err)
	}

	report, err := New(testConfig(0), nil, coord, nil, zerolog.Nop()).Sweep(ctx, clk.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Settled) != 1 {
		t.Fatalf("arbitrated request should settle: %+v", report)
	}
	req, _ := coord.LatestRequest(ctx, "m1")
	if req.FinalOutcome != optimistic.OutcomeNo {
		t.Fatalf("final outcome = %s", req.FinalOutcome)
	}
}

func TestSweepDryRunChangesNothing(t *testing.T) {
	coord, clk := newCoordinator(t)
	seed(t, coord, "m1")
	clk.Advance(3 * time.Hour)

	report, err := New(testConfig(0), nil, coord, nil, zerolog.Nop()).Sweep(context.Background(), clk.Now(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !report.DryRun || len(report.Settled) != 1 {
		t.Fatalf("report = %+v", report)
	}
	req, _ := coord.LatestRequest(context.Background(), "m1")
	if req.State != optimistic.StateProposed {
		t.Fatalf("dry run must not settle, state = %s", req.State)
	}
}

func TestSweepRespectsAdvisoryLock(t *testing.T) {
	coord, clk := newCoordinator(t)
	seed(t, coord, "m1")
	clk.Advance(3 * time.Hour)

	held := &stubLocker{acquired: false}
	report, err := New(testConfig(42), nil, coord, held, zerolog.Nop()).Sweep(context.Background(), clk.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Skipped || report.Scanned != 0 {
		t.Fatalf("lock held elsewhere, sweep should skip: %+v", report)
	}

	free := &stubLocker{acquired: true}
	if err := New(testConfig(42), nil, coord, free, zerolog.Nop()).ProcessBucket(context.Background(), clk.Now()); err != nil {
		t.Fatal(err)
	}
	if !free.released {
		t.Fatal("lock should be released after the sweep")
	}

	broken := &stubLocker{err: errors.New("conn refused")}
	if _, err := New(testConfig(42), nil, coord, broken, zerolog.Nop()).Sweep(context.Background(), clk.Now(), false); err == nil {
		t.Fatal("lock errors should surface")
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	coord, _ := newCoordinator(t)
	if err := New(testConfig(0), nil, coord, nil, zerolog.Nop()).Run(context.Background()); err == nil {
		t.Fatal("expected error without scheduler")
	}
}
