// Package optimistic runs the request, propose, dispute and settle lifecycle
// of questions answered by an optimistic oracle.
package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"oracle-resolver/internal/apierr"
	"oracle-resolver/internal/clock"
)

// Event types emitted to observers.
const (
	EventRequested  = "requested"
	EventProposed   = "proposed"
	EventDisputed   = "disputed"
	EventEscalated  = "escalated"
	EventArbitrated = "arbitrated"
	EventSettled    = "settled"
)

// Config holds the economic and timing parameters of new requests.
type Config struct {
	OracleAddress string
	Network       string
	Version       string
	Currency      string
	Reward        decimal.Decimal
	ProposerBond  decimal.Decimal
	DisputerBond  decimal.Decimal
	// Liveness is how long a proposal can be disputed before it may settle.
	Liveness time.Duration
	// DisputeWindow is how long a dispute waits before escalating to arbitration.
	DisputeWindow time.Duration
	LedgerTimeout time.Duration
}

// DefaultConfig returns the Polygon deployment settings: USDC currency, a 10
// USDC reward, two hour liveness and a 48 hour dispute window.
func DefaultConfig() Config {
	return Config{
		OracleAddress: "0x5953f2538F613E05bAED8A5AeFa8e6622467AD3D",
		Network:       "Polygon",
		Version:       "OptimisticOracle V3",
		Currency:      "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		Reward:        decimal.NewFromInt(10),
		ProposerBond:  decimal.NewFromInt(100),
		DisputerBond:  decimal.NewFromInt(100),
		Liveness:      2 * time.Hour,
		DisputeWindow: 48 * time.Hour,
		LedgerTimeout: 30 * time.Second,
	}
}

var features = []string{
	"Decentralized dispute resolution",
	"Economic guarantees via bonding",
	"Flexible question formats",
	"Escalation to DVM if disputed",
}

// Coordinator is the only writer of OracleRequest state. Transitions on one
// market are serialized by a per-market lock; mu only guards the lock table
// and is never held across a store, ledger or observer call.
type Coordinator struct {
	cfg       Config
	store     RequestStore
	ledger    Ledger
	clock     clock.Clock
	observers []Observer
	logger    zerolog.Logger

	mu      sync.Mutex
	markets map[string]*semaphore.Weighted
}

// New constructs a Coordinator.
func New(cfg Config, store RequestStore, ledger Ledger, clk clock.Clock, logger zerolog.Logger, observers ...Observer) *Coordinator {
	def := DefaultConfig()
	if cfg.Liveness <= 0 {
		cfg.Liveness = def.Liveness
	}
	if cfg.DisputeWindow <= 0 {
		cfg.DisputeWindow = def.DisputeWindow
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = def.LedgerTimeout
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		clock:     clk,
		observers: observers,
		logger:    logger.With().Str("component", "optimistic_oracle").Logger(),
		markets:   make(map[string]*semaphore.Weighted),
	}
}

// Identifier derives the deterministic request identifier of a question.
func Identifier(question string) string {
	return crypto.Keccak256Hash([]byte(question)).Hex()
}

// AncillaryData renders the ancillary payload attached to a request.
func AncillaryData(marketID, question string) (string, error) {
	raw, err := json.Marshal(struct {
		MarketID string `json:"marketId"`
		Question string `json:"question"`
		Type     string `json:"type"`
	}{marketID, question, "prediction-market"})
	if err != nil {
		return "", fmt.Errorf("encode ancillary data: %w", err)
	}
	return string(raw), nil
}

// ParseOutcome maps "yes"/"no" in any case to the canonical label and value.
func ParseOutcome(v string) (string, decimal.Decimal, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes":
		return OutcomeYes, YesPrice, nil
	case "no":
		return OutcomeNo, NoPrice, nil
	}
	return "", decimal.Zero, apierr.Validation("outcome must be yes or no, got %q", v)
}

// GetOptimisticOracleInfo returns static oracle metadata.
func (c *Coordinator) GetOptimisticOracleInfo() Info {
	out := make([]string, len(features))
	copy(out, features)
	return Info{
		OracleAddress: c.cfg.OracleAddress,
		Network:       c.cfg.Network,
		Version:       c.cfg.Version,
		Features:      out,
	}
}

// RequestMarketResolution opens a request for question. Repeating a request
// with the same question and resolution time returns the existing request.
func (c *Coordinator) RequestMarketResolution(ctx context.Context, marketID, question string, resolutionTime time.Time) (OracleRequest, error) {
	marketID = strings.TrimSpace(marketID)
	question = strings.TrimSpace(question)
	switch {
	case marketID == "":
		return OracleRequest{}, fmt.Errorf("%w: market id is required", ErrInvalidRequest)
	case question == "":
		return OracleRequest{}, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	case resolutionTime.IsZero() || resolutionTime.Unix() <= 0:
		return OracleRequest{}, fmt.Errorf("%w: resolution time must be a positive timestamp", ErrInvalidRequest)
	}

	release, err := c.lockMarket(ctx, marketID)
	if err != nil {
		return OracleRequest{}, err
	}
	var events []Event
	req, err := c.openRequest(ctx, marketID, question, resolutionTime, &events)
	release()
	c.publish(ctx, events)
	return req, err
}

func (c *Coordinator) openRequest(ctx context.Context, marketID, question string, resolutionTime time.Time, events *[]Event) (OracleRequest, error) {
	identifier := Identifier(question)
	resolutionTime = time.Unix(resolutionTime.Unix(), 0).UTC()
	key := Key{MarketID: marketID, Identifier: identifier, ResolutionTime: resolutionTime.Unix()}

	latest, err := c.store.LatestRequest(ctx, marketID)
	switch {
	case err == nil:
		if latest.Key() == key {
			c.logger.Debug().Str("market", marketID).Msg("request already exists")
			return latest, nil
		}
		if latest.State != StateSettled {
			return OracleRequest{}, fmt.Errorf("%w: market %s already has an active request in state %s",
				ErrInvalidState, marketID, latest.State)
		}
	case !errors.Is(err, ErrNotFound):
		return OracleRequest{}, fmt.Errorf("load market %s: %w", marketID, err)
	}

	ancillary, err := AncillaryData(marketID, question)
	if err != nil {
		return OracleRequest{}, err
	}

	now := c.clock.Now()
	req := OracleRequest{
		MarketID:       marketID,
		Question:       question,
		Identifier:     identifier,
		AncillaryData:  ancillary,
		Currency:       c.cfg.Currency,
		Reward:         c.cfg.Reward,
		ProposerBond:   c.cfg.ProposerBond,
		DisputerBond:   c.cfg.DisputerBond,
		ResolutionTime: resolutionTime,
		State:          StateRequested,
		RequestedAt:    now,
	}

	tx, err := c.submit(ctx, LedgerCall{Action: ActionRequest, Request: req})
	if err != nil {
		return OracleRequest{}, err
	}
	req.LastTxHash = tx
	req.Version = 1

	if err := c.commit(ctx, req, 0); err != nil {
		return OracleRequest{}, err
	}
	*events = append(*events, Event{Type: EventRequested, Request: req, At: now})
	return req, nil
}

// ProposeMarketOutcome records a proposal. Only a REQUESTED request accepts
// one; a proposal is never overwritten.
func (c *Coordinator) ProposeMarketOutcome(ctx context.Context, marketID, outcome, evidence string) (OracleRequest, error) {
	label, price, err := ParseOutcome(outcome)
	if err != nil {
		return OracleRequest{}, err
	}

	return c.transition(ctx, marketID, EventProposed, func(req *OracleRequest, now time.Time) (*LedgerCall, error) {
		if req.State != StateRequested {
			return nil, c.stateError("propose", *req)
		}
		call := &LedgerCall{Action: ActionPropose, Request: *req, ProposedPrice: price.BigInt()}

		req.State = StateProposed
		req.ProposedOutcome = label
		req.ProposedPrice = decimal.NewNullDecimal(price)
		req.Evidence = strings.TrimSpace(evidence)
		req.ProposedAt = &now
		return call, nil
	})
}

// DisputeMarketOutcome challenges a proposal while its liveness is running.
func (c *Coordinator) DisputeMarketOutcome(ctx context.Context, marketID, reason string) (DisputeResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return DisputeResult{}, apierr.Validation("dispute reason is required")
	}

	req, err := c.transition(ctx, marketID, EventDisputed, func(req *OracleRequest, now time.Time) (*LedgerCall, error) {
		if req.State != StateProposed {
			return nil, c.stateError("dispute", *req)
		}
		if !now.Before(req.ProposedAt.Add(c.cfg.Liveness)) {
			return nil, fmt.Errorf("%w: liveness of market %s proposal ended at %s",
				ErrInvalidState, req.MarketID, req.ProposedAt.Add(c.cfg.Liveness).Format(time.RFC3339))
		}
		call := &LedgerCall{Action: ActionDispute, Request: *req}

		req.State = StateDisputed
		req.DisputeReason = reason
		req.DisputedAt = &now
		return call, nil
	})
	if err != nil {
		return DisputeResult{}, err
	}

	return DisputeResult{
		Request:       req,
		DisputeWindow: c.cfg.DisputeWindow,
		WindowEndsAt:  req.DisputedAt.Add(c.cfg.DisputeWindow),
		WindowSeconds: int64(c.cfg.DisputeWindow / time.Second),
	}, nil
}

// DeliverArbitrationResult records the externally decided value of an
// escalated request. It does not settle.
func (c *Coordinator) DeliverArbitrationResult(ctx context.Context, marketID, outcome string) (OracleRequest, error) {
	_, price, err := ParseOutcome(outcome)
	if err != nil {
		return OracleRequest{}, err
	}

	return c.transition(ctx, marketID, EventArbitrated, func(req *OracleRequest, now time.Time) (*LedgerCall, error) {
		if req.State != StateEscalated {
			return nil, c.stateError("deliver arbitration for", *req)
		}
		if req.ArbitrationPrice.Valid {
			return nil, fmt.Errorf("%w: market %s already has an arbitration result", ErrInvalidState, req.MarketID)
		}
		req.ArbitrationPrice = decimal.NewNullDecimal(price)
		return nil, nil
	})
}

// SettleMarket finalizes a request: an undisputed proposal after liveness,
// or an escalated request once arbitration delivered a value.
func (c *Coordinator) SettleMarket(ctx context.Context, marketID string) (OracleRequest, error) {
	return c.transition(ctx, marketID, EventSettled, func(req *OracleRequest, now time.Time) (*LedgerCall, error) {
		var resolved decimal.Decimal
		switch req.State {
		case StateProposed:
			if ends := req.ProposedAt.Add(c.cfg.Liveness); now.Before(ends) {
				return nil, fmt.Errorf("%w: market %s proposal is disputable until %s",
					ErrInvalidState, req.MarketID, ends.Format(time.RFC3339))
			}
			resolved = req.ProposedPrice.Decimal
		case StateEscalated:
			if !req.ArbitrationPrice.Valid {
				return nil, fmt.Errorf("%w: market %s is awaiting an arbitration result", ErrInvalidState, req.MarketID)
			}
			resolved = req.ArbitrationPrice.Decimal
		default:
			return nil, c.stateError("settle", *req)
		}
		call := &LedgerCall{Action: ActionSettle, Request: *req}

		req.State = StateSettled
		req.ResolvedPrice = decimal.NewNullDecimal(resolved)
		req.FinalOutcome = OutcomeNo
		if resolved.Equal(YesPrice) {
			req.FinalOutcome = OutcomeYes
		}
		req.SettledAt = &now
		return call, nil
	})
}

// GetMarketRequest returns the request identified by the triple. An expired
// dispute is reported, and persisted when possible, as ESCALATED.
func (c *Coordinator) GetMarketRequest(ctx context.Context, marketID, identifier string, timestamp int64) (OracleRequest, error) {
	req, err := c.store.GetRequest(ctx, Key{MarketID: marketID, Identifier: identifier, ResolutionTime: timestamp})
	if err != nil {
		return OracleRequest{}, err
	}
	return c.refresh(ctx, req), nil
}

// LatestRequest returns the most recent request of a market, escalation applied.
func (c *Coordinator) LatestRequest(ctx context.Context, marketID string) (OracleRequest, error) {
	req, err := c.store.LatestRequest(ctx, strings.TrimSpace(marketID))
	if err != nil {
		return OracleRequest{}, err
	}
	return c.refresh(ctx, req), nil
}

// ListRequests lists requests in the given states, escalation applied. No
// states lists every request. Expired disputes match ESCALATED, not DISPUTED.
func (c *Coordinator) ListRequests(ctx context.Context, states ...State) ([]OracleRequest, error) {
	query := states
	if hasState(states, StateEscalated) && !hasState(states, StateDisputed) {
		query = append(append([]State{}, states...), StateDisputed)
	}
	reqs, err := c.store.ListRequestsByState(ctx, query...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]OracleRequest, 0, len(reqs))
	for _, req := range reqs {
		req = c.refresh(ctx, req)
		if len(states) == 0 || hasState(states, req.State) {
			out = append(out, req)
		}
	}
	return out, nil
}

func hasState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// Settleable reports whether SettleMarket would accept req now.
func (c *Coordinator) Settleable(req OracleRequest) bool {
	switch req.State {
	case StateProposed:
		return req.ProposedAt != nil && !c.clock.Now().Before(req.ProposedAt.Add(c.cfg.Liveness))
	case StateEscalated:
		return req.ArbitrationPrice.Valid
	}
	return false
}

type planFunc func(req *OracleRequest, now time.Time) (*LedgerCall, error)

func (c *Coordinator) transition(ctx context.Context, marketID, event string, plan planFunc) (OracleRequest, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return OracleRequest{}, apierr.Validation("market id is required")
	}

	release, err := c.lockMarket(ctx, marketID)
	if err != nil {
		return OracleRequest{}, err
	}
	var events []Event
	next, err := c.apply(ctx, marketID, event, plan, &events)
	release()
	c.publish(ctx, events)
	return next, err
}

// apply runs one transition. The caller holds the market lock.
func (c *Coordinator) apply(ctx context.Context, marketID, event string, plan planFunc, events *[]Event) (OracleRequest, error) {
	current, err := c.store.LatestRequest(ctx, marketID)
	if errors.Is(err, ErrNotFound) {
		return OracleRequest{}, fmt.Errorf("%w: market %s has no oracle request", ErrInvalidState, marketID)
	}
	if err != nil {
		return OracleRequest{}, fmt.Errorf("load market %s: %w", marketID, err)
	}

	now := c.clock.Now()
	if escalated, ok := c.escalate(current, now); ok {
		if err := c.commit(ctx, escalated, current.Version); err != nil {
			return OracleRequest{}, err
		}
		*events = append(*events, Event{Type: EventEscalated, Request: escalated, At: now})
		current = escalated
	}

	next := current
	call, err := plan(&next, now)
	if err != nil {
		return OracleRequest{}, err
	}
	if call != nil {
		tx, err := c.submit(ctx, *call)
		if err != nil {
			return OracleRequest{}, err
		}
		next.LastTxHash = tx
	}
	next.Version = current.Version + 1

	if err := c.commit(ctx, next, current.Version); err != nil {
		if call != nil {
			c.logger.Error().Err(err).Str("market", marketID).Str("tx", next.LastTxHash).
				Msg("ledger accepted submission but state was not committed")
		}
		return OracleRequest{}, err
	}
	*events = append(*events, Event{Type: event, Request: next, At: now})
	return next, nil
}

// escalate applies the dispute window to a snapshot.
func (c *Coordinator) escalate(req OracleRequest, now time.Time) (OracleRequest, bool) {
	if req.State != StateDisputed || req.DisputedAt == nil {
		return req, false
	}
	deadline := req.DisputedAt.Add(c.cfg.DisputeWindow)
	if now.Before(deadline) {
		return req, false
	}
	req.State = StateEscalated
	req.EscalatedAt = &deadline
	req.Version++
	return req, true
}

// refresh escalates a read snapshot. The escalation is persisted only when
// the market lock is free; a running transition persists it itself.
func (c *Coordinator) refresh(ctx context.Context, req OracleRequest) OracleRequest {
	now := c.clock.Now()
	escalated, ok := c.escalate(req, now)
	if !ok {
		return req
	}

	release, ok := c.tryLockMarket(req.MarketID)
	if !ok {
		return escalated
	}
	err := c.commit(ctx, escalated, req.Version)
	release()
	if err != nil {
		c.logger.Warn().Err(err).Str("market", req.MarketID).Msg("failed to persist escalation")
		return escalated
	}
	c.publish(ctx, []Event{{Type: EventEscalated, Request: escalated, At: now}})
	return escalated
}

func (c *Coordinator) commit(ctx context.Context, next OracleRequest, expectedVersion int64) error {
	err := c.store.SaveRequest(ctx, next, expectedVersion)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return fmt.Errorf("%w: market %s was modified concurrently", ErrInvalidState, next.MarketID)
	default:
		return apierr.Wrap(apierr.CodeInternal, err, fmt.Sprintf("persist market %s", next.MarketID))
	}
}

func (c *Coordinator) submit(ctx context.Context, call LedgerCall) (string, error) {
	if c.ledger == nil {
		return "", nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.LedgerTimeout)
	defer cancel()

	tx, err := c.ledger.Submit(callCtx, call)
	if err == nil {
		c.logger.Info().Str("market", call.Request.MarketID).Str("action", string(call.Action)).
			Str("tx", tx).Msg("ledger submission accepted")
		return tx, nil
	}

	c.logger.Warn().Err(err).Str("market", call.Request.MarketID).Str("action", string(call.Action)).
		Msg("ledger submission failed")
	msg := fmt.Sprintf("ledger %s for market %s failed", call.Action, call.Request.MarketID)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", apierr.Wrap(apierr.CodeServiceUnavailable, err, msg)
	}
	return "", apierr.Wrap(apierr.CodeExternalService, err, msg)
}

func (c *Coordinator) marketLock(marketID string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.markets[marketID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		c.markets[marketID] = sem
	}
	return sem
}

// lockMarket waits for the market's lock until ctx is done.
func (c *Coordinator) lockMarket(ctx context.Context, marketID string) (func(), error) {
	sem := c.marketLock(marketID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, apierr.Wrap(apierr.CodeServiceUnavailable, err,
			fmt.Sprintf("timed out waiting for market %s", marketID))
	}
	return func() { sem.Release(1) }, nil
}

func (c *Coordinator) tryLockMarket(marketID string) (func(), bool) {
	sem := c.marketLock(marketID)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}

// publish delivers events to observers. Callers must not hold a market lock.
func (c *Coordinator) publish(ctx context.Context, events []Event) {
	for _, evt := range events {
		for _, obs := range c.observers {
			if err := obs.OnTransition(ctx, evt); err != nil {
				c.logger.Error().Err(err).Str("market", evt.Request.MarketID).Str("event", evt.Type).Msg("observer failed")
			}
		}
	}
}

func (c *Coordinator) stateError(op string, req OracleRequest) error {
	return fmt.Errorf("%w: cannot %s market %s in state %s", ErrInvalidState, op, req.MarketID, req.State)
}
