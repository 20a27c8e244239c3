// Package ledger encodes optimistic oracle lifecycle actions as contract
// calldata and journals them. Signing and broadcasting happen elsewhere.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/optimistic"
)

const optimisticOracleABI = `[
  {"inputs":[{"name":"identifier","type":"bytes32"},{"name":"timestamp","type":"uint256"},{"name":"ancillaryData","type":"bytes"},{"name":"currency","type":"address"},{"name":"reward","type":"uint256"}],"name":"requestPrice","outputs":[{"name":"totalBond","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"requester","type":"address"},{"name":"identifier","type":"bytes32"},{"name":"timestamp","type":"uint256"},{"name":"ancillaryData","type":"bytes"},{"name":"proposedPrice","type":"int256"}],"name":"proposePrice","outputs":[{"name":"totalBond","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"requester","type":"address"},{"name":"identifier","type":"bytes32"},{"name":"timestamp","type":"uint256"},{"name":"ancillaryData","type":"bytes"}],"name":"disputePrice","outputs":[{"name":"totalBond","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"requester","type":"address"},{"name":"identifier","type":"bytes32"},{"name":"timestamp","type":"uint256"},{"name":"ancillaryData","type":"bytes"}],"name":"settle","outputs":[{"name":"payout","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

var oracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(optimisticOracleABI))
	if err != nil {
		panic(fmt.Sprintf("parse optimistic oracle abi: %v", err))
	}
	oracleABI = parsed
}

// DefaultCurrencyDecimals matches USDC.
const DefaultCurrencyDecimals = 6

// Options configures a Journal.
type Options struct {
	OracleAddress    string
	Requester        string
	CurrencyDecimals int32
	Timeout          time.Duration
}

// Journal implements optimistic.Ledger by packing calldata and appending it
// to a SubmissionStore. The returned handle identifies the journal row.
type Journal struct {
	to               common.Address
	requester        common.Address
	currencyDecimals int32
	timeout          time.Duration
	store            SubmissionStore
	clock            clock.Clock
	logger           zerolog.Logger
}

// NewJournal validates addresses and builds a Journal.
func NewJournal(opts Options, store SubmissionStore, clk clock.Clock, logger zerolog.Logger) (*Journal, error) {
	if !common.IsHexAddress(opts.OracleAddress) {
		return nil, fmt.Errorf("invalid oracle address %q", opts.OracleAddress)
	}
	if !common.IsHexAddress(opts.Requester) {
		return nil, fmt.Errorf("invalid requester address %q", opts.Requester)
	}
	if store == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if opts.CurrencyDecimals <= 0 {
		opts.CurrencyDecimals = DefaultCurrencyDecimals
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Journal{
		to:               common.HexToAddress(opts.OracleAddress),
		requester:        common.HexToAddress(opts.Requester),
		currencyDecimals: opts.CurrencyDecimals,
		timeout:          opts.Timeout,
		store:            store,
		clock:            clk,
		logger:           logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// Submit encodes call and journals it.
func (j *Journal) Submit(ctx context.Context, call optimistic.LedgerCall) (string, error) {
	data, err := j.pack(call)
	if err != nil {
		return "", err
	}

	nonce := uuid.New()
	handle := crypto.Keccak256Hash([]byte(call.Action), j.to.Bytes(), data, nonce[:]).Hex()

	sub := Submission{
		Action:     string(call.Action),
		MarketID:   call.Request.MarketID,
		RequestKey: call.Request.Key().String(),
		To:         j.to.Hex(),
		CallData:   hexutil.Encode(data),
		TxHandle:   handle,
		CreatedAt:  j.clock.Now(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if err := j.store.AppendSubmission(storeCtx, sub); err != nil {
		return "", fmt.Errorf("journal %s submission: %w", call.Action, err)
	}

	j.logger.Debug().Str("market", sub.MarketID).Str("action", sub.Action).Str("tx", handle).
		Int("calldata_bytes", len(data)).Msg("submission journaled")
	return handle, nil
}

func (j *Journal) pack(call optimistic.LedgerCall) ([]byte, error) {
	req := call.Request
	if !strings.HasPrefix(req.Identifier, "0x") || len(req.Identifier) != 66 {
		return nil, fmt.Errorf("invalid request identifier %q", req.Identifier)
	}
	identifier := common.HexToHash(req.Identifier)
	timestamp := big.NewInt(req.ResolutionTime.Unix())
	ancillary := []byte(req.AncillaryData)

	var (
		data []byte
		err  error
	)
	switch call.Action {
	case optimistic.ActionRequest:
		if !common.IsHexAddress(req.Currency) {
			return nil, fmt.Errorf("invalid currency address %q", req.Currency)
		}
		reward := req.Reward.Shift(j.currencyDecimals).BigInt()
		data, err = oracleABI.Pack("requestPrice", identifier, timestamp, ancillary, common.HexToAddress(req.Currency), reward)
	case optimistic.ActionPropose:
		if call.ProposedPrice == nil {
			return nil, fmt.Errorf("proposal without price")
		}
		data, err = oracleABI.Pack("proposePrice", j.requester, identifier, timestamp, ancillary, call.ProposedPrice)
	case optimistic.ActionDispute:
		data, err = oracleABI.Pack("disputePrice", j.requester, identifier, timestamp, ancillary)
	case optimistic.ActionSettle:
		data, err = oracleABI.Pack("settle", j.requester, identifier, timestamp, ancillary)
	default:
		return nil, fmt.Errorf("unknown ledger action %q", call.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", call.Action, err)
	}
	return data, nil
}

var _ optimistic.Ledger = (*Journal)(nil)
