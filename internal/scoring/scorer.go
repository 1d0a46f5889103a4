package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/oro/internal/blacklist"
	"github.com/mbd888/oro/internal/chain"
	"github.com/mbd888/oro/internal/defi"
	"github.com/mbd888/oro/internal/logging"
	"github.com/mbd888/oro/internal/metrics"
	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/traces"
	"github.com/mbd888/oro/internal/validation"
)

const (
	DefaultTimeout      = 25 * time.Second
	DefaultMaxTransfers = 1000
)

// ErrDeadline is logged when the provider path loses the race to the deadline.
var ErrDeadline = errors.New("scoring: deadline exceeded")

// Option configures the scorer
type Option func(*Scorer)

// WithBlacklist replaces the built-in blacklist.
func WithBlacklist(l *blacklist.List) Option {
	return func(s *Scorer) { s.blacklist = l }
}

// WithRiskAnalyzer replaces the default risk analyzer.
func WithRiskAnalyzer(a *risk.Analyzer) Option {
	return func(s *Scorer) { s.risk = a }
}

// WithDeFiAnalyzer replaces the default DeFi analyzer.
func WithDeFiAnalyzer(a *defi.Analyzer) Option {
	return func(s *Scorer) { s.defi = a }
}

// WithTimeout sets the deadline for the provider-dependent path.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxTransfers bounds the transfer history fetched per wallet.
func WithMaxTransfers(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.maxTransfers = n
		}
	}
}

// WithClock sets the time source used for wallet age and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// Scorer computes wallet reputation. The reference tables it holds are
// immutable, so one Scorer serves concurrent calls.
type Scorer struct {
	provider     chain.Provider
	blacklist    *blacklist.List
	risk         *risk.Analyzer
	defi         *defi.Analyzer
	timeout      time.Duration
	maxTransfers int
	now          func() time.Time
}

// New creates a scorer reading wallet activity from provider.
func New(provider chain.Provider, opts ...Option) *Scorer {
	s := &Scorer{
		provider:     provider,
		blacklist:    blacklist.Default(),
		risk:         risk.NewAnalyzer(),
		defi:         defi.NewAnalyzer(nil),
		timeout:      DefaultTimeout,
		maxTransfers: DefaultMaxTransfers,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score rates address. It never fails: invalid and blacklisted addresses get
// the minimum result, and provider trouble yields Fallback.
func (s *Scorer) Score(ctx context.Context, address string) *Result {
	started := time.Now()
	ctx, span := traces.StartSpan(ctx, "scoring.Score", traces.WalletAddr(address))
	defer span.End()

	res, path := s.score(ctx, address)

	span.SetAttributes(traces.ScorePath(path), traces.Score(res.Score), traces.Tier(string(res.Tier)))
	if res.RiskLevel != "" {
		span.SetAttributes(traces.RiskLevel(string(res.RiskLevel)))
	}
	metrics.ObserveScore(path, string(res.Tier), started)
	return res
}

func (s *Scorer) score(ctx context.Context, address string) (*Result, string) {
	if !validation.IsValidAddress(address) {
		logging.L(ctx).Info("invalid address, returning minimum score", "input", address)
		return minimum(validation.NormalizeAddress(address), s.now()), metrics.PathInvalid
	}

	addr := validation.NormalizeAddress(address)
	ctx = logging.WithWallet(ctx, addr)
	log := logging.L(ctx)

	if s.blacklist.IsBlacklisted(addr) {
		reason := s.blacklist.Reason(addr)
		log.Warn("blacklisted address", "reason", reason)
		res := minimum(addr, s.now())
		res.RiskLevel = risk.LevelHigh
		res.Metadata.Blacklisted = true
		res.Metadata.BlacklistReason = reason
		return res, metrics.PathBlacklisted
	}

	res, path, err := s.scoreWithDeadline(ctx, addr)
	if err != nil {
		log.Warn("scoring failed, using deterministic fallback", "error", err)
		return Fallback(addr, s.now()), metrics.PathFallback
	}
	return res, path
}

type outcome struct {
	res  *Result
	path string
	err  error
}

// scoreWithDeadline races the provider pipeline against the deadline. The
// pipeline only writes to its own buffered channel, so a late finish after
// losing the race touches nothing shared.
func (s *Scorer) scoreWithDeadline(ctx context.Context, addr string) (*Result, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, path, err := s.pipeline(ctx, addr)
		done <- outcome{res: res, path: path, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.res, o.path, o.err
	case <-timer.C:
		return nil, "", fmt.Errorf("%w after %s", ErrDeadline, s.timeout)
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (s *Scorer) pipeline(ctx context.Context, addr string) (*Result, string, error) {
	log := logging.L(ctx)

	snap, err := s.fetchSnapshot(ctx, addr)
	if err != nil {
		return nil, "", err
	}

	verdict := s.risk.AnalyzeWalletRisk(addr, snap)
	metrics.RiskLevelTotal.WithLabelValues(string(verdict.RiskLevel)).Inc()

	res := &Result{
		Address:   addr,
		RiskLevel: verdict.RiskLevel,
		RiskFlags: verdict.RiskFlags,
		Metadata: Metadata{
			TransactionCount: len(snap.Transfers),
			TokenCount:       len(snap.TokenBalances),
			BalanceEth:       chain.WeiToEther(snap.Balance()).InexactFloat64(),
			RiskLevel:        verdict.RiskLevel,
			RiskScore:        &verdict.TotalRiskScore,
			RiskFactors:      verdict.RiskFactors,
		},
	}
	if res.RiskFlags == nil {
		res.RiskFlags = []risk.Flag{}
	}

	if verdict.RiskLevel == risk.LevelHigh {
		res.Score = max(MinScore, highRiskCeiling-verdict.TotalRiskScore)
		res.Tier = TierNew
		res.CalculatedAt = s.now()
		log.Info("high risk wallet", "risk_score", verdict.TotalRiskScore, "factors", verdict.RiskFactors)
		return res, metrics.PathHighRisk, nil
	}

	comps := s.components(ctx, snap)
	weighted := int(math.Round((comps.Activity*WeightActivity +
		comps.DeFi*WeightDeFi +
		comps.WalletAge*WeightAge +
		comps.Token*WeightToken +
		comps.Balance*WeightBalance) * 100))
	comps.Weighted = weighted

	res.Score, comps.Penalty = applyRiskPenalty(weighted, verdict)
	res.Tier = TierFor(res.Score)
	res.Components = comps
	res.CalculatedAt = s.now()

	if comps.Penalty > 0 {
		log.Info("risk penalty applied", "risk_level", verdict.RiskLevel, "penalty", comps.Penalty)
	}
	log.Debug("score breakdown",
		"score", res.Score,
		"tier", res.Tier,
		"weighted", weighted,
		"wallet_age", comps.WalletAge,
		"balance", comps.Balance,
		"activity", comps.Activity,
		"defi", comps.DeFi,
		"token", comps.Token,
		"protocols", comps.Protocols,
	)
	return res, metrics.PathFull, nil
}

// fetchSnapshot issues the three provider reads concurrently. Each goroutine
// fills its own field of the snapshot.
func (s *Scorer) fetchSnapshot(ctx context.Context, addr string) (*chain.Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.fetchSnapshot", traces.WalletAddr(addr))

	snap := &chain.Snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bal, err := s.provider.GetBalance(gctx, addr)
		snap.BalanceWei = bal
		return err
	})
	g.Go(func() error {
		transfers, err := s.provider.GetAssetTransfers(gctx, addr, chain.AllCategories, s.maxTransfers)
		snap.Transfers = transfers
		return err
	})
	g.Go(func() error {
		tokens, err := s.provider.GetTokenBalances(gctx, addr)
		snap.TokenBalances = tokens
		return err
	})

	err := g.Wait()
	if err == nil {
		span.SetAttributes(traces.TransferCount(len(snap.Transfers)))
	}
	traces.End(span, err)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Scorer) components(ctx context.Context, snap *chain.Snapshot) *Components {
	summary := s.defi.Analyze(snap.Transfers)
	age, days := s.walletAge(ctx, snap.Transfers)

	c := &Components{
		WalletAge:     age,
		WalletAgeDays: days,
		Balance:       balanceScore(snap.Balance()),
		Activity:      clamp01(float64(len(snap.Transfers)) / activeTransfers),
		DeFi:          summary.Score,
		Token:         clamp01(float64(len(snap.TokenBalances)) / diverseTokens),
		Protocols:     summary.Protocols,
	}
	for _, cat := range summary.Categories {
		c.Categories = append(c.Categories, string(cat))
	}
	return c
}

// walletAge normalizes the age of the oldest fetched transfer. A failed block
// lookup assumes an established wallet; a transfer without a block number
// assumes a recent one.
func (s *Scorer) walletAge(ctx context.Context, transfers []chain.Transfer) (score, days float64) {
	if len(transfers) == 0 {
		return 0, 0
	}
	now := s.now()
	oldest := transfers[len(transfers)-1]

	var firstSeen time.Time
	if oldest.BlockNum == 0 {
		firstSeen = now.AddDate(0, 0, -noBlockAgeDays)
	} else {
		ts, err := s.provider.GetBlockTime(ctx, oldest.BlockNum)
		if err != nil {
			logging.L(ctx).Debug("block time lookup failed, assuming established wallet",
				"block", oldest.BlockNum, "error", err)
			firstSeen = now.AddDate(0, 0, -lookupFailsAgeDays)
		} else {
			firstSeen = ts
		}
	}

	days = now.Sub(firstSeen).Hours() / 24
	return clamp01(days / matureWalletDays), days
}

// balanceScore is logarithmic in ETH: 0 below dust, 1 at 10 ETH and above.
func balanceScore(wei *big.Int) float64 {
	eth := chain.WeiToEther(wei).InexactFloat64()
	if eth < dustBalance {
		return 0
	}
	return clamp01(math.Log10(eth+1) / math.Log10(saturatingBalance+1))
}
