// Package scoring turns a wallet's on-chain activity into a 0-100 reputation
// score and tier.
//
// The pipeline validates the address, consults the blacklist, fetches a
// snapshot from the chain provider, evaluates risk and then combines five
// normalized components (activity, DeFi usage, wallet age, token diversity
// and balance) into a weighted score with a risk penalty. Any provider
// failure or deadline expiry is absorbed by a deterministic fallback, so
// scoring always produces a result.
package scoring

import (
	"math"
	"strconv"
	"time"

	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/validation"
)

// Tier is the coarse reputation bucket.
type Tier string

const (
	TierNew     Tier = "New/Unproven"
	TierStable  Tier = "Stable"
	TierTrusted Tier = "Trusted"
)

// Score thresholds for tiers.
const (
	TrustedThreshold = 75
	StableThreshold  = 50

	MinScore = 0
	MaxScore = 100
)

// Component weights. They sum to 1.
const (
	WeightActivity = 0.40
	WeightDeFi     = 0.25
	WeightAge      = 0.15
	WeightToken    = 0.15
	WeightBalance  = 0.05
)

// Normalization ceilings for the components.
const (
	matureWalletDays   = 180.0
	activeTransfers    = 500.0
	diverseTokens      = 5.0
	saturatingBalance  = 10.0 // ETH
	dustBalance        = 0.001
	noBlockAgeDays     = 30
	lookupFailsAgeDays = 365
)

// Risk penalties.
const (
	mediumPenaltyRate = 0.5
	mediumPenaltyCap  = 30.0
	highPenaltyRate   = 0.7
	highPenaltyCap    = 50.0

	// highRiskCeiling bounds the score of a HIGH-risk wallet: ceiling - risk.
	highRiskCeiling = 20
)

// Fallback scoring caps at 30 and only reaches Stable at 25.
const (
	fallbackMax          = 30.0
	fallbackStableCutoff = 25
)

// TierFor maps a final score to its tier.
func TierFor(score int) Tier {
	switch {
	case score >= TrustedThreshold:
		return TierTrusted
	case score >= StableThreshold:
		return TierStable
	default:
		return TierNew
	}
}

// Metadata is the context attached to a score.
type Metadata struct {
	TransactionCount int        `json:"transactionCount"`
	TokenCount       int        `json:"tokenCount"`
	BalanceEth       float64    `json:"balanceEth"`
	RiskLevel        risk.Level `json:"riskLevel,omitempty"`
	RiskScore        *int       `json:"riskScore,omitempty"`
	RiskFactors      []string   `json:"riskFactors,omitempty"`
	Blacklisted      bool       `json:"blacklisted,omitempty"`
	BlacklistReason  string     `json:"blacklistReason,omitempty"`
	Fallback         bool       `json:"fallback,omitempty"`
}

// Components is the normalized breakdown behind a full score.
type Components struct {
	WalletAge     float64  `json:"walletAge"`
	Balance       float64  `json:"balance"`
	Activity      float64  `json:"activity"`
	DeFi          float64  `json:"defi"`
	Token         float64  `json:"token"`
	WalletAgeDays float64  `json:"walletAgeDays"`
	Weighted      int      `json:"weighted"`
	Penalty       float64  `json:"penalty"`
	Protocols     []string `json:"protocols,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// Result is the outcome of scoring one wallet.
type Result struct {
	Address      string      `json:"address"`
	Score        int         `json:"score"`
	Tier         Tier        `json:"tier"`
	RiskLevel    risk.Level  `json:"riskLevel,omitempty"`
	RiskFlags    []risk.Flag `json:"riskFlags"`
	Metadata     Metadata    `json:"metadata"`
	Components   *Components `json:"components,omitempty"`
	CalculatedAt time.Time   `json:"calculatedAt"`
}

func minimum(address string, now time.Time) *Result {
	return &Result{
		Address:      address,
		Score:        MinScore,
		Tier:         TierNew,
		RiskFlags:    []risk.Flag{},
		CalculatedAt: now,
	}
}

// Fallback scores a wallet from its address alone. The last address byte
// is scaled onto 0-30, so results are stable across calls and never depend
// on the provider.
func Fallback(address string, now time.Time) *Result {
	addr := validation.NormalizeAddress(address)
	res := minimum(addr, now)
	res.Metadata.Fallback = true

	if len(addr) < 2 {
		return res
	}
	b, err := strconv.ParseUint(addr[len(addr)-2:], 16, 8)
	if err != nil {
		return res
	}

	res.Score = int(math.Floor(float64(b) / 255 * fallbackMax))
	if res.Score >= fallbackStableCutoff {
		res.Tier = TierStable
	}
	return res
}

// applyRiskPenalty subtracts the level's penalty from a weighted score and
// clamps the result. It returns the final score and the penalty applied.
func applyRiskPenalty(weighted int, v *risk.Verdict) (int, float64) {
	var penalty float64
	switch v.RiskLevel {
	case risk.LevelMedium:
		penalty = math.Min(mediumPenaltyCap, float64(v.TotalRiskScore)*mediumPenaltyRate)
	case risk.LevelHigh:
		penalty = math.Min(highPenaltyCap, float64(v.TotalRiskScore)*highPenaltyRate)
	}
	final := math.Max(MinScore, math.Min(MaxScore, float64(weighted)-penalty))
	// Floor keeps a half-point penalty from lifting a score over a tier line.
	return int(math.Floor(final)), penalty
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
