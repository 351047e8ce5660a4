package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-pulse/internal/config"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// Chainlink reads on-chain price feeds over Ethereum RPC. One observation per
// fetch: the feed's latest round.
type Chainlink struct {
	cfg       config.ChainlinkConfig
	keys      []string
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink constructs the on-chain adapter.
func NewChainlink(cfg config.ChainlinkConfig, logger zerolog.Logger) *Chainlink {
	keys := make([]string, 0, len(cfg.Feeds))
	for key := range cfg.Feeds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Chainlink{
		cfg:    cfg,
		keys:   keys,
		logger: logger.With().Str("component", "chainlink_adapter").Logger(),
	}
}

// Name identifies the adapter.
func (c *Chainlink) Name() string { return "chainlink" }

// Keys lists the indicator keys this adapter serves.
func (c *Chainlink) Keys() []string { return c.keys }

// Fetch reads latestRoundData from the feed contract. A missing RPC URL
// degrades to an empty result.
func (c *Chainlink) Fetch(ctx context.Context, key string, _ Window) ([]NormalizedPoint, error) {
	if c.cfg.RPCURL == "" {
		c.logger.Debug().Str("indicator", key).Msg("ethereum rpc url not configured; skipping fetch")
		return nil, nil
	}

	feedAddr, ok := c.cfg.Feeds[key]
	if !ok {
		return nil, fmt.Errorf("chainlink: unsupported indicator %q", key)
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(feedAddr)
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call feed %s: %w", feedAddr, err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 5 {
		return nil, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode feed answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode feed timestamp")
	}

	decimals := c.cfg.FeedDecimals
	if decimals <= 0 {
		decimals = 8
	}

	value := decimal.NewFromBigInt(answer, -decimals)
	ts := time.Unix(updatedAt.Int64(), 0).UTC()
	raw, _ := json.Marshal(map[string]string{
		"feed":       feedAddr,
		"answer":     answer.String(),
		"updated_at": updatedAt.String(),
	})

	return []NormalizedPoint{{
		IndicatorKey: key,
		Timestamp:    ts,
		Value:        value,
		Source:       "chainlink:" + feedAddr,
		RawPayload:   raw,
	}}, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Adapter = (*Chainlink)(nil)
