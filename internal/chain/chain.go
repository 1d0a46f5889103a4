// Package chain reads wallet activity from an Ethereum node or indexer.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidResponse = errors.New("chain: invalid provider response")
	ErrCircuitOpen     = errors.New("chain: provider circuit open")
	ErrRPCConnection   = errors.New("chain: RPC connection failed")
	ErrBlockNotFound   = errors.New("chain: block not found")
)

// RPCError wraps a failed provider call with the method that failed.
type RPCError struct {
	Method string
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain: %s failed: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Category classifies an asset transfer.
type Category string

const (
	CategoryExternal Category = "external"
	CategoryInternal Category = "internal"
	CategoryERC20    Category = "erc20"
	CategoryERC721   Category = "erc721"
	CategoryERC1155  Category = "erc1155"
)

// AllCategories is every transfer category a wallet snapshot covers.
var AllCategories = []Category{
	CategoryExternal,
	CategoryInternal,
	CategoryERC20,
	CategoryERC721,
	CategoryERC1155,
}

// Transfer is one asset movement out of a wallet. Addresses are lowercase.
type Transfer struct {
	From     string
	To       string
	Value    *big.Int // wei; nil for token transfers and unreported values
	Category Category
	Asset    string

	// BlockNum is 0 when the provider did not report a block.
	BlockNum uint64
	// GasPrice is nil when the provider did not report one.
	GasPrice *big.Int

	RawContractAddress string
	// TokenValue is the raw base-unit amount of a token transfer, in the
	// token's own decimals. Nil for ETH transfers.
	TokenValue *big.Int
	// MethodName is the decoded calldata method, empty when unavailable.
	MethodName string
}

// ValueWei returns the transfer value, treating a missing value as zero.
func (t Transfer) ValueWei() *big.Int {
	if t.Value == nil {
		return new(big.Int)
	}
	return t.Value
}

// EtherWei returns the wei moved by an ETH transfer and zero for token
// transfers, whatever their Value holds.
func (t Transfer) EtherWei() *big.Int {
	if t.Category.IsToken() {
		return new(big.Int)
	}
	return t.ValueWei()
}

// IsToken reports whether transfers in c move a token contract's units
// rather than ether.
func (c Category) IsToken() bool {
	switch c {
	case CategoryERC20, CategoryERC721, CategoryERC1155:
		return true
	}
	return false
}

// TokenBalance is a fungible token holding.
type TokenBalance struct {
	ContractAddress string
	Balance         decimal.Decimal
}

// Snapshot is the read-only view of a wallet used for one scoring call.
// Transfers are ordered most-recent-first.
type Snapshot struct {
	BalanceWei    *big.Int
	Transfers     []Transfer
	TokenBalances []TokenBalance
}

// Balance returns the snapshot balance, treating a missing value as zero.
func (s *Snapshot) Balance() *big.Int {
	if s == nil || s.BalanceWei == nil {
		return new(big.Int)
	}
	return s.BalanceWei
}

// -----------------------------------------------------------------------------
// Interfaces - for testability and flexibility
// -----------------------------------------------------------------------------

// Provider is the data source a wallet snapshot is assembled from.
type Provider interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	GetAssetTransfers(ctx context.Context, address string, categories []Category, maxCount int) ([]Transfer, error)
	GetTokenBalances(ctx context.Context, address string) ([]TokenBalance, error)
	GetBlockTime(ctx context.Context, blockNum uint64) (time.Time, error)
}

// -----------------------------------------------------------------------------
// Units
// -----------------------------------------------------------------------------

var (
	weiPerEther = decimal.NewFromBigInt(big.NewInt(params.Ether), 0)
	weiPerGwei  = big.NewInt(params.GWei)
)

// etherExp is the decimal exponent between wei and ether.
const etherExp = -18

// WeiToEther converts a wei amount to ether without loss of precision.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, etherExp)
}

// EtherToWei converts a whole-and-fractional ether amount to wei.
func EtherToWei(eth decimal.Decimal) *big.Int {
	return eth.Mul(weiPerEther).BigInt()
}

// Gwei returns n gwei in wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerGwei)
}

// Ether returns n ether in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}
