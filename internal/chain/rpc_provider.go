package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/mbd888/oro/internal/circuitbreaker"
	"github.com/mbd888/oro/internal/metrics"
	"github.com/mbd888/oro/internal/retry"
	"github.com/mbd888/oro/internal/traces"
)

// JSON-RPC methods the provider issues. Used as circuit breaker keys and
// metric labels.
const (
	MethodGetBalance        = "eth_getBalance"
	MethodGetBlockByNumber  = "eth_getBlockByNumber"
	MethodBlockNumber       = "eth_blockNumber"
	MethodGetAssetTransfers = "alchemy_getAssetTransfers"
	MethodGetTokenBalances  = "alchemy_getTokenBalances"
)

const (
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 250 * time.Millisecond
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second

	// maxTransfersPerPage is the page ceiling of alchemy_getAssetTransfers.
	maxTransfersPerPage = 1000
)

// Config for connecting to a chain provider
type Config struct {
	URL              string
	MaxAttempts      int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Option configures the provider
type Option func(*RPCProvider)

// WithBlockTimeCache replaces the default in-memory block timestamp cache.
func WithBlockTimeCache(c BlockTimeCache) Option {
	return func(p *RPCProvider) {
		p.blockTimes = c
	}
}

// WithBreaker shares a circuit breaker across providers.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(p *RPCProvider) {
		p.breaker = b
	}
}

// RPCProvider reads wallet activity from an Alchemy-compatible Ethereum
// JSON-RPC endpoint. Standard eth_* calls go through ethclient; the
// alchemy_* enhanced methods are issued directly on the rpc client.
type RPCProvider struct {
	rpc         *rpc.Client
	eth         *ethclient.Client
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	retryDelay  time.Duration
	blockTimes  BlockTimeCache
}

// Compile-time interface check
var _ Provider = (*RPCProvider)(nil)

// Dial connects to cfg.URL. http(s) and ws(s) endpoints are supported.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*RPCProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrRPCConnection)
	}
	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	return NewRPCProvider(client, cfg, opts...), nil
}

// NewRPCProvider wraps an existing rpc client.
func NewRPCProvider(client *rpc.Client, cfg Config, opts ...Option) *RPCProvider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}

	p := &RPCProvider{
		rpc:         client,
		eth:         ethclient.NewClient(client),
		breaker:     circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		blockTimes:  NewMemoryBlockTimes(defaultBlockTimeCacheSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close releases the underlying connection.
func (p *RPCProvider) Close() {
	p.rpc.Close()
}

// call runs fn under the method's circuit breaker with retries, and records
// metrics and a span. Errors come back as *RPCError.
func (p *RPCProvider) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, span := traces.StartSpan(ctx, "chain."+method, traces.RPCMethod(method))
	start := time.Now()

	err := p.breaker.Execute(method, retry.IsRetryable, func() error {
		return retry.DoRPC(ctx, p.maxAttempts, p.retryDelay, fn)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = ErrCircuitOpen
	}
	if err != nil {
		err = &RPCError{Method: method, Err: err}
	}

	metrics.ObserveProviderCall(method, start, err)
	traces.End(span, err)
	return err
}

func invalid(method string, format string, args ...any) error {
	return &RPCError{Method: method, Err: fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))}
}

// -----------------------------------------------------------------------------
// Balance
// -----------------------------------------------------------------------------

// GetBalance returns the latest ETH balance in wei.
func (p *RPCProvider) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, invalid(MethodGetBalance, "bad address %q", address)
	}
	addr := common.HexToAddress(address)

	var bal *big.Int
	err := p.call(ctx, MethodGetBalance, func(ctx context.Context) error {
		var err error
		bal, err = p.eth.BalanceAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// BlockNumber returns the latest block number. Used by health checks.
func (p *RPCProvider) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.call(ctx, MethodBlockNumber, func(ctx context.Context) error {
		var err error
		n, err = p.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Block timestamps
// -----------------------------------------------------------------------------

type rpcBlockHeader struct {
	Timestamp *hexutil.Uint64 `json:"timestamp"`
}

// GetBlockTime returns the timestamp of a block, served from the cache when
// possible.
func (p *RPCProvider) GetBlockTime(ctx context.Context, blockNum uint64) (time.Time, error) {
	if ts, ok := p.blockTimes.Get(ctx, blockNum); ok {
		metrics.BlockTimeCacheTotal.WithLabelValues("hit").Inc()
		return ts, nil
	}
	metrics.BlockTimeCacheTotal.WithLabelValues("miss").Inc()

	var head *rpcBlockHeader
	err := p.call(ctx, MethodGetBlockByNumber, func(ctx context.Context) error {
		return p.rpc.CallContext(ctx, &head, MethodGetBlockByNumber, hexutil.EncodeUint64(blockNum), false)
	})
	if err != nil {
		return time.Time{}, err
	}
	if head == nil {
		return time.Time{}, &RPCError{Method: MethodGetBlockByNumber, Err: ErrBlockNotFound}
	}
	if head.Timestamp == nil {
		return time.Time{}, invalid(MethodGetBlockByNumber, "block %d has no timestamp", blockNum)
	}

	ts := time.Unix(int64(*head.Timestamp), 0).UTC()
	p.blockTimes.Set(ctx, blockNum, ts)
	return ts, nil
}

// -----------------------------------------------------------------------------
// Asset transfers
// -----------------------------------------------------------------------------

type assetTransfersParams struct {
	FromBlock        string     `json:"fromBlock"`
	ToBlock          string     `json:"toBlock"`
	FromAddress      string     `json:"fromAddress"`
	Category         []Category `json:"category"`
	Order            string     `json:"order"`
	WithMetadata     bool       `json:"withMetadata"`
	ExcludeZeroValue bool       `json:"excludeZeroValue"`
	MaxCount         string     `json:"maxCount"`
	PageKey          string     `json:"pageKey,omitempty"`
}

type assetTransfersResult struct {
	Transfers []rawTransfer `json:"transfers"`
	PageKey   string        `json:"pageKey"`
}

type rawTransfer struct {
	BlockNum    string   `json:"blockNum"`
	From        string   `json:"from"`
	To          *string  `json:"to"`
	Value       *float64 `json:"value"`
	Asset       *string  `json:"asset"`
	Category    Category `json:"category"`
	RawContract struct {
		Value   *string `json:"value"`
		Address *string `json:"address"`
	} `json:"rawContract"`
}

// GetAssetTransfers returns up to maxCount transfers sent by address,
// newest first, following page keys as needed.
func (p *RPCProvider) GetAssetTransfers(ctx context.Context, address string, categories []Category, maxCount int) ([]Transfer, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if len(categories) == 0 {
		categories = AllCategories
	}

	params := assetTransfersParams{
		FromBlock:   "0x0",
		ToBlock:     "latest",
		FromAddress: strings.ToLower(address),
		Category:    categories,
		Order:       "desc",
	}

	out := make([]Transfer, 0, min(maxCount, maxTransfersPerPage))
	for len(out) < maxCount {
		params.MaxCount = hexutil.EncodeUint64(uint64(min(maxCount-len(out), maxTransfersPerPage)))

		var page assetTransfersResult
		err := p.call(ctx, MethodGetAssetTransfers, func(ctx context.Context) error {
			return p.rpc.CallContext(ctx, &page, MethodGetAssetTransfers, params)
		})
		if err != nil {
			return nil, err
		}

		for i := range page.Transfers {
			t, err := page.Transfers[i].decode()
			if err != nil {
				return nil, invalid(MethodGetAssetTransfers, "transfer %d: %v", len(out), err)
			}
			out = append(out, t)
			if len(out) == maxCount {
				break
			}
		}

		if page.PageKey == "" || len(page.Transfers) == 0 {
			break
		}
		params.PageKey = page.PageKey
	}
	return out, nil
}

func (r *rawTransfer) decode() (Transfer, error) {
	t := Transfer{
		From:     strings.ToLower(r.From),
		Category: r.Category,
	}
	if r.To != nil {
		t.To = strings.ToLower(*r.To)
	}
	if r.Asset != nil {
		t.Asset = *r.Asset
	}
	if r.RawContract.Address != nil {
		t.RawContractAddress = strings.ToLower(*r.RawContract.Address)
	}

	if r.BlockNum != "" {
		n, err := hexutil.DecodeUint64(r.BlockNum)
		if err != nil {
			return Transfer{}, fmt.Errorf("blockNum %q: %w", r.BlockNum, err)
		}
		t.BlockNum = n
	}

	var raw *big.Int
	if r.RawContract.Value != nil {
		v, err := parseQuantity(*r.RawContract.Value)
		if err != nil {
			return Transfer{}, fmt.Errorf("rawContract.value: %w", err)
		}
		raw = v
	}

	// rawContract.value is wei only for ETH; tokens report base units in
	// their own decimals and never populate Value.
	switch {
	case t.Category.IsToken():
		t.TokenValue = raw
	case raw != nil:
		t.Value = raw
	case r.Value != nil && t.Asset == "ETH":
		t.Value = EtherToWei(decimal.NewFromFloat(*r.Value))
	}

	// alchemy_getAssetTransfers does not report gas prices; GasPrice stays nil.
	return t, nil
}

// -----------------------------------------------------------------------------
// Token balances
// -----------------------------------------------------------------------------

type tokenBalancesResult struct {
	Address       string `json:"address"`
	TokenBalances []struct {
		ContractAddress string  `json:"contractAddress"`
		TokenBalance    *string `json:"tokenBalance"`
		Error           *string `json:"error"`
	} `json:"tokenBalances"`
}

// GetTokenBalances returns the ERC-20 balances held by address. Entries the
// provider could not resolve are skipped.
func (p *RPCProvider) GetTokenBalances(ctx context.Context, address string) ([]TokenBalance, error) {
	var res tokenBalancesResult
	err := p.call(ctx, MethodGetTokenBalances, func(ctx context.Context) error {
		return p.rpc.CallContext(ctx, &res, MethodGetTokenBalances, strings.ToLower(address), "erc20")
	})
	if err != nil {
		return nil, err
	}

	out := make([]TokenBalance, 0, len(res.TokenBalances))
	for _, tb := range res.TokenBalances {
		if tb.Error != nil || tb.TokenBalance == nil {
			continue
		}
		v, err := parseQuantity(*tb.TokenBalance)
		if err != nil {
			return nil, invalid(MethodGetTokenBalances, "token %s: %v", tb.ContractAddress, err)
		}
		out = append(out, TokenBalance{
			ContractAddress: strings.ToLower(tb.ContractAddress),
			Balance:         decimal.NewFromBigInt(v, 0),
		})
	}
	return out, nil
}

// parseQuantity parses a 0x-prefixed hex quantity. Unlike hexutil it accepts
// leading zeros, which Alchemy emits for zero-padded token balances.
func parseQuantity(s string) (*big.Int, error) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		digits, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return nil, fmt.Errorf("quantity %q lacks 0x prefix", s)
	}
	if digits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("quantity %q is not hex", s)
	}
	return v, nil
}
