package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/clock"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const question = "Will ETH reach $5000?"

type fakeLedger struct {
	mu      sync.Mutex
	calls   []LedgerCall
	err     error
	entered chan struct{}
	release chan struct{}
	// blockMarket limits entered/release to one market when set.
	blockMarket string
}

func (f *fakeLedger) Submit(ctx context.Context, call LedgerCall) (string, error) {
	gated := f.blockMarket == "" || f.blockMarket == call.Request.MarketID
	if gated && f.entered != nil {
		f.entered <- struct{}{}
	}
	if gated && f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, call)
	return "0xtx" + string(call.Action), nil
}

func (f *fakeLedger) actions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Action, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Action)
	}
	return out
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingObserver) OnTransition(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Type)
	return r.err
}

type harness struct {
	coord  *Coordinator
	clock  *clock.Manual
	ledger *fakeLedger
	store  *MemoryStore
	obs    *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.NewManual(testNow),
		ledger: &fakeLedger{},
		store:  NewMemoryStore(),
		obs:    &recordingObserver{},
	}
	h.coord = New(DefaultConfig(), h.store, h.ledger, h.clock, zerolog.Nop(), h.obs)
	return h
}

func (h *harness) request(t *testing.T, marketID string) OracleRequest {
	t.Helper()
	req, err := h.coord.RequestMarketResolution(context.Background(), marketID, question, testNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return req
}

func requireInvalidState(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, ErrInvalidState) || !apierr.IsKind(err, apierr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRequestProposeDisputeThenSettleFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.request(t, "m1")
	if req.State != StateRequested || req.Version != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Identifier != Identifier(question) || !strings.HasPrefix(req.Identifier, "0x") || len(req.Identifier) != 66 {
		t.Fatalf("identifier = %s", req.Identifier)
	}
	var anc map[string]string
	if err := json.Unmarshal([]byte(req.AncillaryData), &anc); err != nil {
		t.Fatal(err)
	}
	if anc["marketId"] != "m1" || anc["question"] != question || anc["type"] != "prediction-market" {
		t.Fatalf("ancillary data = %v", anc)
	}
	if !req.Reward.Equal(decimal.NewFromInt(10)) || req.Currency != DefaultConfig().Currency {
		t.Fatalf("economic defaults missing: %+v", req)
	}

	proposed, err := h.coord.ProposeMarketOutcome(ctx, "m1", "YES", "price crossed")
	if err != nil {
		t.Fatal(err)
	}
	if proposed.State != StateProposed || !proposed.ProposedPrice.Decimal.Equal(YesPrice) || proposed.ProposedOutcome != OutcomeYes {
		t.Fatalf("unexpected proposal %+v", proposed)
	}

	disputed, err := h.coord.DisputeMarketOutcome(ctx, "m1", "insufficient evidence")
	if err != nil {
		t.Fatal(err)
	}
	if disputed.Request.State != StateDisputed || disputed.WindowSeconds != 48*3600 {
		t.Fatalf("unexpected dispute %+v", disputed)
	}

	_, err = h.coord.SettleMarket(ctx, "m1")
	requireInvalidState(t, err)

	got, err := h.coord.GetMarketRequest(ctx, "m1", req.Identifier, req.ResolutionTime.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateDisputed {
		t.Fatalf("failed settle must not change state, got %s", got.State)
	}

	want := []Action{ActionRequest, ActionPropose, ActionDispute}
	if a := h.ledger.actions(); len(a) != len(want) || a[2] != ActionDispute {
		t.Fatalf("ledger actions = %v", a)
	}
}

func TestTransitionsRequireRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	requireInvalidState(t, err)
	_, err = h.coord.SettleMarket(ctx, "m1")
	requireInvalidState(t, err)

	_, err = h.coord.GetMarketRequest(ctx, "m1", Identifier(question), 1)
	if !apierr.IsKind(err, apierr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSettleRightAfterRequestFails(t *testing.T) {
	h := newHarness(t)
	h.request(t, "m1")
	_, err := h.coord.SettleMarket(context.Background(), "m1")
	requireInvalidState(t, err)
}

func TestUndisputedProposalSettlesAfterLiveness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")

	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "no", ""); err != nil {
		t.Fatal(err)
	}
	_, err := h.coord.SettleMarket(ctx, "m1")
	requireInvalidState(t, err)

	h.clock.Advance(2 * time.Hour)
	settled, err := h.coord.SettleMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if settled.State != StateSettled || settled.FinalOutcome != OutcomeNo || !settled.ResolvedPrice.Decimal.IsZero() {
		t.Fatalf("unexpected settlement %+v", settled)
	}
	if settled.SettledAt == nil || !settled.SettledAt.Equal(testNow.Add(2*time.Hour)) {
		t.Fatalf("settledAt = %v", settled.SettledAt)
	}

	_, err = h.coord.DisputeMarketOutcome(ctx, "m1", "too late")
	requireInvalidState(t, err)
	_, err = h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	requireInvalidState(t, err)
	_, err = h.coord.SettleMarket(ctx, "m1")
	requireInvalidState(t, err)
}

func TestProposalIsNeverOverwritten(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")

	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", ""); err != nil {
		t.Fatal(err)
	}
	_, err := h.coord.ProposeMarketOutcome(ctx, "m1", "no", "")
	requireInvalidState(t, err)

	latest, _ := h.coord.LatestRequest(ctx, "m1")
	if latest.ProposedOutcome != OutcomeYes {
		t.Fatalf("proposal overwritten: %+v", latest)
	}
}

func TestDisputeAfterLivenessFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")
	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", ""); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(2 * time.Hour)
	_, err := h.coord.DisputeMarketOutcome(ctx, "m1", "late")
	requireInvalidState(t, err)
}

func TestEscalationAndArbitration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "m1")
	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "no", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.DisputeMarketOutcome(ctx, "m1", "wrong"); err != nil {
		t.Fatal(err)
	}

	_, err := h.coord.DeliverArbitrationResult(ctx, "m1", "yes")
	requireInvalidState(t, err)

	h.clock.Advance(48*time.Hour - time.Second)
	got, _ := h.coord.GetMarketRequest(ctx, "m1", req.Identifier, req.ResolutionTime.Unix())
	if got.State != StateDisputed {
		t.Fatalf("escalated too early: %s", got.State)
	}

	h.clock.Advance(time.Second)
	got, err = h.coord.GetMarketRequest(ctx, "m1", req.Identifier, req.ResolutionTime.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateEscalated || got.EscalatedAt == nil {
		t.Fatalf("expected escalation, got %+v", got)
	}
	stored, _ := h.store.GetRequest(ctx, req.Key())
	if stored.State != StateEscalated {
		t.Fatal("escalation should be persisted on read")
	}

	_, err = h.coord.SettleMarket(ctx, "m1")
	requireInvalidState(t, err)

	if _, err := h.coord.DeliverArbitrationResult(ctx, "m1", "YES"); err != nil {
		t.Fatal(err)
	}
	_, err = h.coord.DeliverArbitrationResult(ctx, "m1", "no")
	requireInvalidState(t, err)

	settled, err := h.coord.SettleMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if settled.FinalOutcome != OutcomeYes || !settled.ResolvedPrice.Decimal.Equal(YesPrice) {
		t.Fatalf("arbitration value not applied: %+v", settled)
	}

	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	want := []string{EventRequested, EventProposed, EventDisputed, EventEscalated, EventArbitrated, EventSettled}
	if strings.Join(h.obs.events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v", h.obs.events)
	}
}

func TestRequestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.request(t, "m1")
	second := h.request(t, "m1")
	if first.Key() != second.Key() || second.Version != first.Version {
		t.Fatalf("repeat request changed the record: %+v", second)
	}
	if n := len(h.ledger.actions()); n != 1 {
		t.Fatalf("ledger called %d times", n)
	}

	_, err := h.coord.RequestMarketResolution(ctx, "m1", "another question", testNow.Add(time.Hour))
	requireInvalidState(t, err)
}

func TestNewRequestAllowedAfterSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")
	h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	h.clock.Advance(3 * time.Hour)
	if _, err := h.coord.SettleMarket(ctx, "m1"); err != nil {
		t.Fatal(err)
	}

	next, err := h.coord.RequestMarketResolution(ctx, "m1", "follow-up question", testNow.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := h.coord.LatestRequest(ctx, "m1")
	if latest.Key() != next.Key() || latest.State != StateRequested {
		t.Fatalf("latest should be the new request: %+v", latest)
	}
}

func TestLedgerFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")

	h.ledger.err = errors.New("nonce too low")
	_, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	if !apierr.IsKind(err, apierr.KindExternalService) {
		t.Fatalf("expected external error, got %v", err)
	}
	latest, _ := h.coord.LatestRequest(ctx, "m1")
	if latest.State != StateRequested || latest.Version != 1 {
		t.Fatalf("state moved despite ledger failure: %+v", latest)
	}

	h.ledger.err = nil
	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", ""); err != nil {
		t.Fatalf("retry after ledger recovery: %v", err)
	}
}

func TestLedgerFailureOnRequestStoresNothing(t *testing.T) {
	h := newHarness(t)
	h.ledger.err = errors.New("rpc down")
	_, err := h.coord.RequestMarketResolution(context.Background(), "m1", question, testNow)
	if !apierr.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if _, err := h.store.LatestRequest(context.Background(), "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("request must not be stored when the ledger failed")
	}
}

func TestLedgerTimeoutIsServiceUnavailable(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.LedgerTimeout = 20 * time.Millisecond
	h.ledger.release = make(chan struct{})
	h.coord = New(cfg, h.store, h.ledger, h.clock, zerolog.Nop())

	_, err := h.coord.RequestMarketResolution(context.Background(), "m1", question, testNow)
	if c := apierr.Classify(err); c == nil || c.Code != apierr.CodeServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestConcurrentTransitionsAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, "m1")

	h.ledger.entered = make(chan struct{}, 2)
	h.ledger.release = make(chan struct{})
	h.ledger.blockMarket = "m1"

	proposed := make(chan error, 1)
	go func() {
		_, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
		proposed <- err
	}()
	<-h.ledger.entered

	disputed := make(chan error, 1)
	go func() {
		_, err := h.coord.DisputeMarketOutcome(ctx, "m1", "price was below target")
		disputed <- err
	}()

	select {
	case err := <-disputed:
		t.Fatalf("dispute finished while the proposal was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	snapshot, err := h.coord.GetMarketRequest(ctx, "m1", req.Identifier, req.ResolutionTime.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != StateRequested {
		t.Fatalf("reader saw a partial transition: %s", snapshot.State)
	}

	// Other markets are not blocked.
	if _, err := h.coord.RequestMarketResolution(ctx, "m2", question, testNow); err != nil {
		t.Fatalf("m2 blocked by m1: %v", err)
	}

	close(h.ledger.release)
	if err := <-proposed; err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := <-disputed; err != nil {
		t.Fatalf("dispute: %v", err)
	}

	latest, _ := h.coord.LatestRequest(ctx, "m1")
	if latest.State != StateDisputed || latest.ProposedOutcome != OutcomeYes || latest.Version != 3 {
		t.Fatalf("unexpected request %+v", latest)
	}
	var m1 []Action
	h.ledger.mu.Lock()
	for _, call := range h.ledger.calls {
		if call.Request.MarketID == "m1" {
			m1 = append(m1, call.Action)
		}
	}
	h.ledger.mu.Unlock()
	want := []Action{ActionRequest, ActionPropose, ActionDispute}
	if len(m1) != len(want) {
		t.Fatalf("ledger calls = %v", m1)
	}
	for i := range want {
		if m1[i] != want[i] {
			t.Fatalf("ledger calls = %v", m1)
		}
	}
}

func TestConcurrentDuplicateRequestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := testNow.Add(24 * time.Hour)

	h.ledger.entered = make(chan struct{}, 1)
	h.ledger.release = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.coord.RequestMarketResolution(ctx, "m1", question, at)
		first <- err
	}()
	<-h.ledger.entered

	second := make(chan OracleRequest, 1)
	secondErr := make(chan error, 1)
	go func() {
		req, err := h.coord.RequestMarketResolution(ctx, "m1", question, at)
		secondErr <- err
		second <- req
	}()

	close(h.ledger.release)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if err := <-secondErr; err != nil {
		t.Fatalf("duplicate request should return the existing one: %v", err)
	}
	if req := <-second; req.State != StateRequested || req.Version != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if n := len(h.ledger.actions()); n != 1 {
		t.Fatalf("expected one ledger call, got %d", n)
	}
}

func TestWaitingTransitionHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.request(t, "m1")

	release, err := h.coord.lockMarket(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	if !apierr.IsKind(err, apierr.KindExternalService) || errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected a retryable timeout, got %v", err)
	}
}

type lockProbingObserver struct {
	coord *Coordinator
	held  []string
}

func (o *lockProbingObserver) OnTransition(_ context.Context, evt Event) error {
	release, ok := o.coord.tryLockMarket(evt.Request.MarketID)
	if !ok {
		o.held = append(o.held, evt.Type)
		return nil
	}
	release()
	return nil
}

func TestObserversRunAfterLockRelease(t *testing.T) {
	clk := clock.NewManual(testNow)
	obs := &lockProbingObserver{}
	coord := New(DefaultConfig(), NewMemoryStore(), &fakeLedger{}, clk, zerolog.Nop(), obs)
	obs.coord = coord

	ctx := context.Background()
	if _, err := coord.RequestMarketResolution(ctx, "m1", question, testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.ProposeMarketOutcome(ctx, "m1", "no", ""); err != nil {
		t.Fatal(err)
	}
	if len(obs.held) != 0 {
		t.Fatalf("observers ran with the market locked: %v", obs.held)
	}
}

func TestConcurrentProposalsOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := "yes"
			if i%2 == 1 {
				outcome = "no"
			}
			if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", outcome, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidState) {
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d proposals succeeded", wins)
	}
}

func TestInputValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]func() error{
		"empty market": func() error {
			_, err := h.coord.RequestMarketResolution(ctx, " ", question, testNow)
			return err
		},
		"empty question": func() error {
			_, err := h.coord.RequestMarketResolution(ctx, "m1", "", testNow)
			return err
		},
		"zero time": func() error {
			_, err := h.coord.RequestMarketResolution(ctx, "m1", question, time.Time{})
			return err
		},
		"negative time": func() error {
			_, err := h.coord.RequestMarketResolution(ctx, "m1", question, time.Unix(-5, 0))
			return err
		},
		"bad outcome": func() error {
			h.request(t, "m9")
			_, err := h.coord.ProposeMarketOutcome(ctx, "m9", "maybe", "")
			return err
		},
		"empty reason": func() error {
			_, err := h.coord.DisputeMarketOutcome(ctx, "m9", "  ")
			return err
		},
	}
	for name, fn := range cases {
		if err := fn(); !apierr.IsKind(err, apierr.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestObserverFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.obs.err = errors.New("telegram down")
	h.request(t, "m1")
	if _, err := h.coord.ProposeMarketOutcome(context.Background(), "m1", "yes", ""); err != nil {
		t.Fatal(err)
	}
}

func TestOracleInfo(t *testing.T) {
	info := newHarness(t).coord.GetOptimisticOracleInfo()
	if info.Network != "Polygon" || info.Version != "OptimisticOracle V3" || len(info.Features) != 4 {
		t.Fatalf("unexpected info %+v", info)
	}
	info.Features[0] = "mutated"
	if newHarness(t).coord.GetOptimisticOracleInfo().Features[0] == "mutated" {
		t.Fatal("features must be copied")
	}
}

func TestSettleable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "m1")
	proposed, _ := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", "")
	if h.coord.Settleable(proposed) {
		t.Fatal("liveness still running")
	}
	h.clock.Advance(2 * time.Hour)
	if !h.coord.Settleable(proposed) {
		t.Fatal("liveness elapsed")
	}
}

func TestListRequestsAppliesEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.request(t, "m1")
	h.request(t, "m2")
	if _, err := h.coord.ProposeMarketOutcome(ctx, "m1", "yes", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.DisputeMarketOutcome(ctx, "m1", "bad round"); err != nil {
		t.Fatal(err)
	}

	disputed, err := h.coord.ListRequests(ctx, StateDisputed)
	if err != nil {
		t.Fatal(err)
	}
	if len(disputed) != 1 || disputed[0].MarketID != "m1" {
		t.Fatalf("disputed = %+v", disputed)
	}

	h.clock.Advance(DefaultConfig().DisputeWindow)
	escalated, err := h.coord.ListRequests(ctx, StateEscalated)
	if err != nil {
		t.Fatal(err)
	}
	if len(escalated) != 1 || escalated[0].State != StateEscalated {
		t.Fatalf("expired dispute should list as escalated: %+v", escalated)
	}
	if disputed, _ = h.coord.ListRequests(ctx, StateDisputed); len(disputed) != 0 {
		t.Fatalf("escalated request still listed as disputed: %+v", disputed)
	}

	all, err := h.coord.ListRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].MarketID != "m1" || all[1].MarketID != "m2" {
		t.Fatalf("all = %+v", all)
	}
}

func TestParseOutcomeIsStrict(t *testing.T) {
	accepted := map[string]string{"yes": OutcomeYes, " YES ": OutcomeYes, "No": OutcomeNo, "no": OutcomeNo}
	for in, want := range accepted {
		label, price, err := ParseOutcome(in)
		if err != nil || label != want {
			t.Fatalf("%q -> %s, %v", in, label, err)
		}
		if want == OutcomeYes && !price.Equal(YesPrice) || want == OutcomeNo && !price.Equal(NoPrice) {
			t.Fatalf("%q -> price %s", in, price)
		}
	}

	h := newHarness(t)
	h.request(t, "m1")
	for _, in := range []string{"", "maybe", "1", "true", "yes please", "y"} {
		if _, err := h.coord.ProposeMarketOutcome(context.Background(), "m1", in, ""); !apierr.IsKind(err, apierr.KindValidation) {
			t.Fatalf("%q: expected validation error, got %v", in, err)
		}
	}
	latest, _ := h.coord.LatestRequest(context.Background(), "m1")
	if latest.State != StateRequested || len(h.ledger.actions()) != 1 {
		t.Fatalf("rejected outcomes must not change state: %+v", latest)
	}
}
