package optimistic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"oracle-resolver/internal/apierr"
)

// State is the lifecycle phase of an OracleRequest.
type State string

const (
	StateRequested State = "REQUESTED"
	StateProposed  State = "PROPOSED"
	StateDisputed  State = "DISPUTED"
	StateEscalated State = "ESCALATED"
	StateSettled   State = "SETTLED"
)

func (s State) rank() int {
	switch s {
	case StateRequested:
		return 1
	case StateProposed:
		return 2
	case StateDisputed:
		return 3
	case StateEscalated:
		return 4
	case StateSettled:
		return 5
	}
	return 0
}

// ParseState accepts a state name in any case.
func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if s.rank() == 0 {
		return "", apierr.Validation("unknown request state %q", v)
	}
	return s, nil
}

// Outcome labels of a binary market.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

var (
	// YesPrice is the canonical affirmative value (1e18).
	YesPrice = decimal.New(1, 18)
	// NoPrice is the canonical negative value.
	NoPrice = decimal.Zero
)

var (
	ErrInvalidRequest = apierr.New(apierr.CodeValidation, "invalid oracle request")
	ErrInvalidState   = apierr.New(apierr.CodeInvalidState, "invalid state transition")
	ErrNotFound       = apierr.New(apierr.CodeNotFound, "oracle request not found")
	// ErrVersionConflict is returned by stores when a save lost a race with
	// another writer.
	ErrVersionConflict = errors.New("oracle request modified concurrently")
)

// Key identifies a request.
type Key struct {
	MarketID       string
	Identifier     string
	ResolutionTime int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.MarketID, k.Identifier, k.ResolutionTime)
}

// OracleRequest is the persisted lifecycle record of one question.
type OracleRequest struct {
	MarketID       string          `json:"marketId"`
	Question       string          `json:"question"`
	Identifier     string          `json:"identifier"`
	AncillaryData  string          `json:"ancillaryData"`
	Currency       string          `json:"currency"`
	Reward         decimal.Decimal `json:"reward"`
	ProposerBond   decimal.Decimal `json:"proposerBond"`
	DisputerBond   decimal.Decimal `json:"disputerBond"`
	ResolutionTime time.Time       `json:"resolutionTime"`
	State          State           `json:"state"`

	ProposedOutcome  string              `json:"proposedOutcome,omitempty"`
	ProposedPrice    decimal.NullDecimal `json:"proposedPrice"`
	Evidence         string              `json:"evidence,omitempty"`
	DisputeReason    string              `json:"disputeReason,omitempty"`
	ArbitrationPrice decimal.NullDecimal `json:"arbitrationPrice"`
	ResolvedPrice    decimal.NullDecimal `json:"resolvedPrice"`
	FinalOutcome     string              `json:"finalOutcome,omitempty"`

	RequestedAt time.Time  `json:"requestedAt"`
	ProposedAt  *time.Time `json:"proposedAt,omitempty"`
	DisputedAt  *time.Time `json:"disputedAt,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
	LastTxHash  string     `json:"lastTxHash,omitempty"`
	Version     int64      `json:"version"`
}

// Key returns the identity triple.
func (r OracleRequest) Key() Key {
	return Key{MarketID: r.MarketID, Identifier: r.Identifier, ResolutionTime: r.ResolutionTime.Unix()}
}

// Action names a ledger submission.
type Action string

const (
	ActionRequest Action = "request"
	ActionPropose Action = "propose"
	ActionDispute Action = "dispute"
	ActionSettle  Action = "settle"
)

// LedgerCall is one on-chain action derived from a transition. Request is the
// snapshot the transition starts from.
type LedgerCall struct {
	Action        Action
	Request       OracleRequest
	ProposedPrice *big.Int
}

// Ledger submits lifecycle actions and returns a transaction handle.
type Ledger interface {
	Submit(ctx context.Context, call LedgerCall) (string, error)
}

// RequestStore persists requests. SaveRequest must fail with
// ErrVersionConflict unless the stored version equals expectedVersion
// (zero means insert).
type RequestStore interface {
	GetRequest(ctx context.Context, key Key) (OracleRequest, error)
	LatestRequest(ctx context.Context, marketID string) (OracleRequest, error)
	SaveRequest(ctx context.Context, req OracleRequest, expectedVersion int64) error
	ListRequestsByState(ctx context.Context, states ...State) ([]OracleRequest, error)
}

// Event is a committed transition.
type Event struct {
	Type    string
	Request OracleRequest
	At      time.Time
}

// Observer is told about committed transitions.
type Observer interface {
	OnTransition(ctx context.Context, evt Event) error
}

// Info is static metadata of the optimistic oracle.
type Info struct {
	OracleAddress string   `json:"oracleAddress"`
	Network       string   `json:"network"`
	Version       string   `json:"version"`
	Features      []string `json:"features"`
}

// DisputeResult is returned by a successful dispute.
type DisputeResult struct {
	Request       OracleRequest `json:"request"`
	DisputeWindow time.Duration `json:"-"`
	WindowEndsAt  time.Time     `json:"windowEndsAt"`
	WindowSeconds int64         `json:"disputeWindowSeconds"`
}
