package risk

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/mbd888/oro/internal/chain"
)

// Transaction pattern thresholds.
const (
	tokenActivityLimit = 2000
	roundTransferLimit = 3
	highGasLimit       = 2

	botMinTransfers   = 100
	botWindow         = 100
	botMinWindow      = 50
	botMinBlocks      = 20
	botMinAmounts     = 20
	botMaxBlockGap    = 0.1
	botMaxUniqueRatio = 0.05
	botBlockBurst     = 20
	botMinScore       = 40
	botMinReasons     = 2

	highBalanceMaxTransfers = 10
)

var (
	largeTransferWei = chain.Ether(100)
	highBalanceWei   = chain.Ether(1000)
	highGasPriceWei  = chain.Gwei(100)
	roundTransferWei = new(big.Int).Div(chain.Ether(1), big.NewInt(10))
	wholeEtherWei    = chain.Ether(1)
)

// Analyzer evaluates wallet snapshots. It holds only immutable reference
// sets and is safe for concurrent use.
type Analyzer struct {
	lists Lists
}

// NewAnalyzer creates an analyzer over the built-in reference sets.
func NewAnalyzer() *Analyzer {
	return &Analyzer{lists: DefaultLists()}
}

// WithLists overrides the reference address sets.
func (a *Analyzer) WithLists(l Lists) *Analyzer {
	a.lists = l
	return a
}

// AnalyzeWalletRisk runs the three sub-analyses and combines them by maximum.
// Factors keep sub-analysis order: transaction, DeFi, balance.
func (a *Analyzer) AnalyzeWalletRisk(address string, snap *chain.Snapshot) *Verdict {
	if snap == nil {
		snap = &chain.Snapshot{}
	}
	address = strings.ToLower(address)

	tx := a.analyzeTransactionPatterns(address, snap.Transfers)
	df := a.analyzeDeFiPatterns(snap.Transfers)
	bal := a.analyzeBalancePatterns(snap.Balance(), snap.Transfers)

	total := max(tx.score, df.score, bal.score)

	factors := make([]string, 0, len(tx.factors)+len(df.factors)+len(bal.factors))
	factors = append(factors, tx.factors...)
	factors = append(factors, df.factors...)
	factors = append(factors, bal.factors...)

	return &Verdict{
		TotalRiskScore: total,
		RiskFactors:    factors,
		RiskFlags:      ClassifyFactors(factors),
		RiskLevel:      LevelFor(total),
	}
}

func (a *Analyzer) analyzeTransactionPatterns(address string, transfers []chain.Transfer) subResult {
	var r subResult

	if p := AnalyzeAddressPattern(address); p.IsSuspicious {
		r.add(p.RiskScore, "Suspicious address pattern: "+p.Reason)
	}
	if a.lists.Sanctioned.Has(address) {
		r.add(100, "OFAC Sanctioned Address - Tornado Cash mixer")
	}

	if len(transfers) == 0 {
		if len(r.factors) == 0 {
			r.factors = append(r.factors, "No transaction history")
		}
		return r.capped()
	}

	var large, tokens, suspicious, round, highGas int
	for _, t := range transfers {
		// Thresholds are in ETH; token amounts never count toward them.
		v := t.EtherWei()
		if v.Cmp(largeTransferWei) > 0 {
			large++
		}
		if t.Category == chain.CategoryERC20 {
			tokens++
		}
		if a.lists.SuspiciousContracts.Has(t.RawContractAddress) {
			suspicious++
		}
		if isRoundTransfer(v) {
			round++
		}
		if isHighGas(t.GasPrice) {
			highGas++
		}
	}

	if large > 0 {
		r.add(30, fmt.Sprintf("Large transfers detected: %d transactions > 100 ETH", large))
	}

	knownProtocol := a.lists.KnownProtocols.Has(address)
	if tokens > tokenActivityLimit && !knownProtocol {
		r.add(20, fmt.Sprintf("High token activity: %d token transfers", tokens))
	}
	if suspicious > 0 {
		r.add(50, fmt.Sprintf("Suspicious contract interactions: %d", suspicious))
	}

	if len(transfers) >= botMinTransfers && !knownProtocol {
		if reasons := detectBot(transfers); len(reasons) > 0 {
			r.add(25, "Automated/bot-like patterns: "+strings.Join(reasons, ", "))
		}
	}

	if round > roundTransferLimit {
		r.add(15, fmt.Sprintf("Round number transfers detected: %d transactions", round))
	}
	if highGas > highGasLimit {
		r.add(20, fmt.Sprintf("High gas price patterns detected: %d transactions", highGas))
	}

	return r.capped()
}

// detectBot returns the bot reasons when enough of them fire together, or nil.
func detectBot(transfers []chain.Transfer) []string {
	recent := transfers
	if len(recent) > botWindow {
		recent = recent[:botWindow]
	}

	score := 0
	var reasons []string

	// Block spacing. Transfers are newest first, so the span is newest minus oldest.
	if len(recent) >= botMinWindow {
		var blocks []uint64
		for _, t := range recent {
			if t.BlockNum != 0 {
				blocks = append(blocks, t.BlockNum)
			}
		}
		if len(blocks) >= botMinBlocks {
			span := float64(int64(blocks[0]) - int64(blocks[len(blocks)-1]))
			if span/float64(len(blocks)) < botMaxBlockGap {
				score += 15
				reasons = append(reasons, "Extremely high transaction frequency")
			}
		}
	}

	// Amount uniformity at two-decimal ETH precision.
	unique := make(map[string]struct{})
	amounts := 0
	for _, t := range recent {
		v := t.EtherWei()
		if v.Sign() <= 0 {
			continue
		}
		amounts++
		unique[chain.WeiToEther(v).Round(2).String()] = struct{}{}
	}
	if amounts >= botMinAmounts && float64(len(unique))/float64(amounts) < botMaxUniqueRatio {
		score += 10
		reasons = append(reasons, "Highly consistent transaction amounts")
	}

	// Bursts inside a single block.
	perBlock := make(map[uint64]int)
	maxPerBlock := 0
	for _, t := range recent {
		if t.BlockNum == 0 {
			continue
		}
		perBlock[t.BlockNum]++
		if perBlock[t.BlockNum] > maxPerBlock {
			maxPerBlock = perBlock[t.BlockNum]
		}
	}
	if maxPerBlock >= botBlockBurst {
		score += 20
		reasons = append(reasons, fmt.Sprintf("Multiple transactions per block (%d max)", maxPerBlock))
	}

	if score >= botMinScore && len(reasons) >= botMinReasons {
		return reasons
	}
	return nil
}

func (a *Analyzer) analyzeDeFiPatterns(transfers []chain.Transfer) subResult {
	var r subResult

	flashLoans := 0
	mev := 0
	for _, t := range transfers {
		if a.lists.FlashLoanContracts.Has(t.RawContractAddress) {
			flashLoans++
		}
		if isHighGas(t.GasPrice) {
			mev++
		}
	}

	if flashLoans > 0 {
		r.add(40, fmt.Sprintf("Flash loan patterns detected: %d", flashLoans))
	}
	if n := detectLiquidationAvoidance(transfers); n > 0 {
		r.add(30, fmt.Sprintf("Liquidation avoidance patterns detected: %d", n))
	}
	if mev > 0 {
		r.add(35, fmt.Sprintf("MEV/front-running patterns detected: %d", mev))
	}

	return r.capped()
}

// detectLiquidationAvoidance needs per-position collateral history that
// transfer lists do not carry; it reports nothing until such a source exists.
func detectLiquidationAvoidance([]chain.Transfer) int {
	return 0
}

func (a *Analyzer) analyzeBalancePatterns(balance *big.Int, transfers []chain.Transfer) subResult {
	var r subResult

	if balance.Cmp(highBalanceWei) > 0 && len(transfers) < highBalanceMaxTransfers {
		r.add(40, "High balance with low activity (potential stolen funds)")
	}
	if balance.Sign() > 0 && new(big.Int).Mod(balance, wholeEtherWei).Sign() == 0 {
		r.add(10, "Round balance amount (potential test funds)")
	}

	return r.capped()
}

// isRoundTransfer reports a positive value that is an exact multiple of 0.1 ETH.
func isRoundTransfer(v *big.Int) bool {
	return v.Sign() > 0 && new(big.Int).Mod(v, roundTransferWei).Sign() == 0
}

func isHighGas(gasPrice *big.Int) bool {
	return gasPrice != nil && gasPrice.Cmp(highGasPriceWei) > 0
}
