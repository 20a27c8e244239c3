package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const aggregatorV3ABIJSON = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// AggregatorOptions parameterise the Chainlink feed reader.
type AggregatorOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Aggregator reads Chainlink AggregatorV3 contracts over JSON-RPC.
type Aggregator struct {
	opts      AggregatorOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	clientMux sync.Mutex

	// decimals never change for a deployed aggregator
	decimals sync.Map
}

// NewAggregator builds a reader that dials RPCURL on first use.
func NewAggregator(opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	return &Aggregator{opts: opts, logger: logger.With().Str("component", "aggregator_reader").Logger()}
}

// NewAggregatorWithCaller builds a reader on top of an existing contract caller.
func NewAggregatorWithCaller(caller ethereum.ContractCaller, opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	a := NewAggregator(opts, logger)
	a.caller = caller
	return a
}

// LatestRound calls latestRoundData() and decimals() on the feed.
func (a *Aggregator) LatestRound(ctx context.Context, feedAddress string) (Round, error) {
	if !common.IsHexAddress(feedAddress) {
		return Round{}, fmt.Errorf("invalid feed address %q", feedAddress)
	}

	timeout := a.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := a.getCaller(ctx)
	if err != nil {
		return Round{}, err
	}

	addr := common.HexToAddress(feedAddress)

	decimals, err := a.feedDecimals(ctx, caller, addr)
	if err != nil {
		return Round{}, err
	}

	payload, err := aggregatorV3ABI.Pack("latestRoundData")
	if err != nil {
		return Round{}, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Round{}, fmt.Errorf("call latestRoundData on %s: %w", addr.Hex(), err)
	}

	round, err := decodeLatestRoundData(res)
	if err != nil {
		return Round{}, fmt.Errorf("decode latestRoundData from %s: %w", addr.Hex(), err)
	}
	round.Decimals = decimals

	a.logger.Debug().Str("feed", addr.Hex()).
		Str("round_id", round.RoundID.String()).
		Time("updated_at", round.UpdatedAt).
		Msg("feed round read")
	return round, nil
}

func (a *Aggregator) feedDecimals(ctx context.Context, caller ethereum.ContractCaller, addr common.Address) (uint8, error) {
	if v, ok := a.decimals.Load(addr); ok {
		return v.(uint8), nil
	}

	payload, err := aggregatorV3ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals on %s: %w", addr.Hex(), err)
	}
	outputs, err := aggregatorV3ABI.Unpack("decimals", res)
	if err != nil {
		return 0, fmt.Errorf("decode decimals from %s: %w", addr.Hex(), err)
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	a.decimals.Store(addr, decimals)
	return decimals, nil
}

func decodeLatestRoundData(data []byte) (Round, error) {
	outputs, err := aggregatorV3ABI.Unpack("latestRoundData", data)
	if err != nil {
		return Round{}, err
	}
	if len(outputs) != 5 {
		return Round{}, fmt.Errorf("unexpected latestRoundData response with %d values", len(outputs))
	}

	roundID, ok1 := outputs[0].(*big.Int)
	answer, ok2 := outputs[1].(*big.Int)
	startedAt, ok3 := outputs[2].(*big.Int)
	updatedAt, ok4 := outputs[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Round{}, errors.New("failed to decode latestRoundData outputs")
	}

	return Round{
		RoundID:   roundID,
		Answer:    answer,
		StartedAt: unixTime(startedAt),
		UpdatedAt: unixTime(updatedAt),
	}, nil
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

func (a *Aggregator) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	a.clientMux.Lock()
	defer a.clientMux.Unlock()

	if a.caller != nil {
		return a.caller, nil
	}
	if a.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, a.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	a.caller = client
	return client, nil
}

var _ RoundReader = (*Aggregator)(nil)
