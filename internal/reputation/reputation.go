// Package reputation persists wallet scores and serves them.
//
// A wallet's score is computed by the scoring package on first request and
// stored. Later requests are answered from the store until the record goes
// stale, after which the wallet is rescored. A background worker keeps
// tracked wallets fresh.
package reputation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/scoring"
)

// ErrNotFound is returned when a wallet has never been scored.
var ErrNotFound = errors.New("reputation: wallet not found")

const (
	// DefaultStaleAfter is how long a stored score is served before rescoring.
	DefaultStaleAfter = 6 * time.Hour
	// DefaultRefreshBatch bounds the stale wallets rescored per worker pass.
	DefaultRefreshBatch = 100
)

// balancePlaces matches the DECIMAL(20,8) balance column.
const balancePlaces = 8

// WalletRecord is the stored score of one wallet.
type WalletRecord struct {
	Address          string          `json:"address"`
	Score            int             `json:"score"`
	Tier             scoring.Tier    `json:"tier"`
	TransactionCount int             `json:"transactionCount"`
	TokenCount       int             `json:"tokenCount"`
	BalanceEth       decimal.Decimal `json:"balanceEth"`
	RiskFlags        []risk.Flag     `json:"riskFlags"`
	RiskLevel        risk.Level      `json:"riskLevel"`
	LastUpdated      time.Time       `json:"lastUpdated"`
	CreatedAt        time.Time       `json:"createdAt"`

	// Fallback marks an unstored score derived from the address alone.
	Fallback bool `json:"fallback,omitempty"`
}

// Stats summarizes the store.
type Stats struct {
	TotalWallets    int     `json:"totalWallets"`
	RecentlyUpdated int     `json:"recentlyUpdated"`
	AverageScore    float64 `json:"averageScore"`
}

// RecordFromResult converts a scoring result into a storable record.
// Results without a risk level (invalid or fallback) are stored as LOW.
func RecordFromResult(res *scoring.Result) *WalletRecord {
	level := res.RiskLevel
	if level == "" {
		level = risk.LevelLow
	}
	flags := res.RiskFlags
	if flags == nil {
		flags = []risk.Flag{}
	}
	return &WalletRecord{
		Address:          res.Address,
		Score:            res.Score,
		Tier:             res.Tier,
		TransactionCount: res.Metadata.TransactionCount,
		TokenCount:       res.Metadata.TokenCount,
		BalanceEth:       decimal.NewFromFloat(res.Metadata.BalanceEth).Round(balancePlaces),
		RiskFlags:        flags,
		RiskLevel:        level,
	}
}

// Scorer rates a wallet. *scoring.Scorer satisfies it.
type Scorer interface {
	Score(ctx context.Context, address string) *scoring.Result
}

// Publisher is notified whenever a wallet is rescored.
type Publisher interface {
	PublishScore(rec *WalletRecord)
}
