package scoring

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/oro/internal/blacklist"
	"github.com/mbd888/oro/internal/chain"
	"github.com/mbd888/oro/internal/risk"
)

const (
	wallet     = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	walletFF   = "0x8ba1f109551bd432803012645ac136ddd64dbaff"
	wallet00   = "0x8ba1f109551bd432803012645ac136ddd64dba00"
	tornado    = "0x12d66f87a04a9e220743712ce6d9bb1ba5616c8a"
	aaveV3     = "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2"
	comptrol   = "0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b"
	uniV2      = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	uniV3      = "0xe592427a0aece92de3edee1f18e0157c05861564"
	oneInch    = "0x1111111254eeb25477b68fb85ed929f73a960582"
	aaveV2     = "0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9" // also a flash-loan pool
	mixer      = "0x910cbd523d972eb0a6f4cae4618ad62622b39dbf"
	randomPeer = "0x1234567890123456789012345678901234567890"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// stubProvider serves a canned snapshot and records how it was called.
type stubProvider struct {
	mu sync.Mutex

	balance    *big.Int
	transfers  []chain.Transfer
	tokens     []chain.TokenBalance
	blockTimes map[uint64]time.Time

	balanceErr error
	blockErr   error
	// hang makes GetAssetTransfers block until ctx is done.
	hang bool

	calls         int
	gotMaxCount   int
	gotCategories []chain.Category
}

func (p *stubProvider) GetBalance(_ context.Context, _ string) (*big.Int, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.balanceErr != nil {
		return nil, p.balanceErr
	}
	if p.balance == nil {
		return new(big.Int), nil
	}
	return p.balance, nil
}

func (p *stubProvider) GetAssetTransfers(ctx context.Context, _ string, categories []chain.Category, maxCount int) ([]chain.Transfer, error) {
	p.mu.Lock()
	p.calls++
	p.gotMaxCount = maxCount
	p.gotCategories = categories
	p.mu.Unlock()
	if p.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.transfers, nil
}

func (p *stubProvider) GetTokenBalances(context.Context, string) ([]chain.TokenBalance, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.tokens, nil
}

func (p *stubProvider) GetBlockTime(_ context.Context, n uint64) (time.Time, error) {
	if p.blockErr != nil {
		return time.Time{}, p.blockErr
	}
	ts, ok := p.blockTimes[n]
	if !ok {
		return time.Time{}, chain.ErrBlockNotFound
	}
	return ts, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestScorer(p chain.Provider, opts ...Option) *Scorer {
	return New(p, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func tokens(n int) []chain.TokenBalance {
	out := make([]chain.TokenBalance, n)
	for i := range out {
		out[i] = chain.TokenBalance{ContractAddress: randomPeer}
	}
	return out
}

func ethFraction(numer, denom int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(numer), chain.Ether(1))
	return v.Div(v, big.NewInt(denom))
}

// perfectWallet is 500 DeFi transfers spread over five protocols with
// varied amounts, 10 ETH, five tokens and a first transfer 200 days old.
func perfectWallet() *stubProvider {
	protocols := []string{aaveV3, comptrol, uniV2, uniV3, oneInch}
	transfers := make([]chain.Transfer, 500)
	for i := range transfers {
		// 0.0123 ETH * k never lands on a 0.1 ETH multiple for k <= 50.
		value := new(big.Int).Mul(big.NewInt(int64(i%50+1)), big.NewInt(12_300_000_000_000_000))
		transfers[i] = chain.Transfer{
			From:               wallet,
			To:                 protocols[i%len(protocols)],
			RawContractAddress: protocols[i%len(protocols)],
			Value:              value,
			Category:           chain.CategoryExternal,
			Asset:              "ETH",
			BlockNum:           uint64(1000 + (len(transfers)-1-i)*10),
		}
	}
	return &stubProvider{
		balance:    chain.Ether(10),
		transfers:  transfers,
		tokens:     tokens(5),
		blockTimes: map[uint64]time.Time{1000: fixedNow.AddDate(0, 0, -200)},
	}
}

func TestScore_InvalidAddresses(t *testing.T) {
	p := &stubProvider{}
	s := newTestScorer(p)

	for _, addr := range []string{
		"",
		"0x",
		"8ba1f109551bd432803012645ac136ddd64dba72",
		"0x8ba1f109551bd432803012645ac136ddd64dba7",
		"0x8ba1f109551bd432803012645ac136ddd64dba7g",
		"0X8ba1f109551bd432803012645ac136ddd64dba72",
		"0x0000000000000000000000000000000000000000",
	} {
		res := s.Score(context.Background(), addr)
		assert.Equal(t, 0, res.Score, addr)
		assert.Equal(t, TierNew, res.Tier, addr)
		assert.Equal(t, Metadata{}, res.Metadata, addr)
		assert.Nil(t, res.Components, addr)
	}
	assert.Zero(t, p.callCount(), "invalid addresses must not reach the provider")
}

func TestScore_Blacklisted(t *testing.T) {
	p := perfectWallet()
	s := newTestScorer(p)

	res := s.Score(context.Background(), "0x12D66f87A04A9E220743712Ce6d9bB1Ba5616C8a")

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, TierNew, res.Tier)
	assert.Equal(t, tornado, res.Address)
	assert.True(t, res.Metadata.Blacklisted)
	assert.Equal(t, "Tornado Cash (Sanctioned)", res.Metadata.BlacklistReason)
	assert.Equal(t, risk.LevelHigh, res.RiskLevel)
	assert.Zero(t, p.callCount())
}

func TestScore_CustomBlacklist(t *testing.T) {
	s := newTestScorer(perfectWallet(), WithBlacklist(blacklist.New(map[string]string{wallet: ""})))

	res := s.Score(context.Background(), wallet)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, blacklist.DefaultReason, res.Metadata.BlacklistReason)
}

func TestScore_EmptyWallet(t *testing.T) {
	p := &stubProvider{}
	s := newTestScorer(p)

	res := s.Score(context.Background(), wallet)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, TierNew, res.Tier)
	assert.Equal(t, risk.LevelLow, res.RiskLevel)
	require.NotNil(t, res.Components)
	assert.Zero(t, res.Components.WalletAge)
	assert.Zero(t, res.Components.Balance)
	assert.Zero(t, res.Components.Activity)
	assert.Zero(t, res.Components.DeFi)
	assert.Zero(t, res.Components.Token)
	assert.Equal(t, []string{"No transaction history"}, res.Metadata.RiskFactors)
	assert.Equal(t, DefaultMaxTransfers, p.gotMaxCount)
	assert.Equal(t, chain.AllCategories, p.gotCategories)
}

func TestScore_PerfectWallet(t *testing.T) {
	s := newTestScorer(perfectWallet())

	res := s.Score(context.Background(), wallet)

	require.NotNil(t, res.Components)
	assert.Equal(t, 1.0, res.Components.Activity)
	assert.Equal(t, 1.0, res.Components.DeFi)
	assert.Equal(t, 1.0, res.Components.WalletAge)
	assert.Equal(t, 1.0, res.Components.Token)
	assert.InDelta(t, 1.0, res.Components.Balance, 1e-12)
	assert.InDelta(t, 200.0, res.Components.WalletAgeDays, 1e-9)

	assert.Equal(t, risk.LevelLow, res.RiskLevel)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, TierTrusted, res.Tier)
	assert.Equal(t, 500, res.Metadata.TransactionCount)
	assert.Equal(t, 5, res.Metadata.TokenCount)
	assert.Equal(t, 10.0, res.Metadata.BalanceEth)
	assert.Equal(t, fixedNow, res.CalculatedAt)
	assert.Len(t, res.Components.Protocols, 5)
}

func TestScore_HighRiskShortCircuits(t *testing.T) {
	// Mixer interaction (+50) and a large transfer (+30) give 80.
	p := &stubProvider{
		balance: ethFraction(1, 2),
		transfers: []chain.Transfer{
			{From: wallet, To: mixer, RawContractAddress: mixer, Value: new(big.Int).Add(chain.Ether(150), big.NewInt(1)), Category: chain.CategoryExternal, BlockNum: 10},
		},
		blockTimes: map[uint64]time.Time{10: fixedNow.AddDate(-1, 0, 0)},
	}
	s := newTestScorer(p)

	res := s.Score(context.Background(), wallet)

	assert.Equal(t, risk.LevelHigh, res.RiskLevel)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, TierNew, res.Tier)
	assert.Nil(t, res.Components)
	require.NotNil(t, res.Metadata.RiskScore)
	assert.Equal(t, 80, *res.Metadata.RiskScore)
	assert.NotEmpty(t, res.RiskFlags)
}

func TestScore_MediumRiskPenalty(t *testing.T) {
	// Five large high-gas transfers: transaction risk 30+20=50, MEV 35.
	transfers := make([]chain.Transfer, 5)
	for i := range transfers {
		transfers[i] = chain.Transfer{
			From:     wallet,
			To:       randomPeer,
			Value:    new(big.Int).Add(chain.Ether(150), big.NewInt(1)),
			Category: chain.CategoryExternal,
			GasPrice: chain.Gwei(150),
			BlockNum: uint64(100 - i),
		}
	}
	p := &stubProvider{
		balance:    ethFraction(21, 2), // 10.5 ETH, not a whole amount
		transfers:  transfers,
		tokens:     tokens(5),
		blockTimes: map[uint64]time.Time{96: fixedNow.AddDate(0, 0, -200)},
	}
	s := newTestScorer(p)

	res := s.Score(context.Background(), wallet)

	assert.Equal(t, risk.LevelMedium, res.RiskLevel)
	require.NotNil(t, res.Components)
	// activity .01*.4 + age .15 + tokens .15 + balance .05 = 35.4 → 35, minus min(30, 50*.5).
	assert.Equal(t, 35, res.Components.Weighted)
	assert.Equal(t, 25.0, res.Components.Penalty)
	assert.Equal(t, 10, res.Score)
	assert.Equal(t, TierNew, res.Tier)
}

func TestScore_ProviderErrorFallsBack(t *testing.T) {
	tests := []struct {
		addr  string
		score int
		tier  Tier
	}{
		{walletFF, 30, TierStable},
		{wallet00, 0, TierNew},
		{wallet, 13, TierNew}, // 0x72: floor(114/255*30)
	}

	for _, tt := range tests {
		p := &stubProvider{balanceErr: errors.New("upstream 503")}
		s := newTestScorer(p)

		res := s.Score(context.Background(), tt.addr)
		assert.Equal(t, tt.score, res.Score, tt.addr)
		assert.Equal(t, tt.tier, res.Tier, tt.addr)
		assert.True(t, res.Metadata.Fallback, tt.addr)
		assert.Empty(t, res.RiskLevel, tt.addr)
	}
}

func TestScore_DeadlineFallsBack(t *testing.T) {
	p := perfectWallet()
	p.hang = true
	s := newTestScorer(p, WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := s.Score(context.Background(), walletFF)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Metadata.Fallback)
	assert.Equal(t, 30, res.Score)
	assert.Equal(t, TierStable, res.Tier)
}

func TestScore_CancelledContextFallsBack(t *testing.T) {
	p := perfectWallet()
	p.hang = true
	s := newTestScorer(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Score(ctx, wallet)
	assert.True(t, res.Metadata.Fallback)
}

func TestWalletAge_Defaults(t *testing.T) {
	t.Run("block lookup fails assumes a year", func(t *testing.T) {
		p := &stubProvider{
			transfers: []chain.Transfer{{From: wallet, To: randomPeer, BlockNum: 42}},
			blockErr:  errors.New("timeout"),
		}
		score, days := newTestScorer(p).walletAge(context.Background(), p.transfers)
		assert.Equal(t, 1.0, score)
		assert.InDelta(t, 365, days, 1)
	})

	t.Run("missing block number assumes thirty days", func(t *testing.T) {
		p := &stubProvider{transfers: []chain.Transfer{{From: wallet, To: randomPeer}}}
		score, days := newTestScorer(p).walletAge(context.Background(), p.transfers)
		assert.InDelta(t, 30.0/180.0, score, 1e-9)
		assert.InDelta(t, 30, days, 1e-9)
	})

	t.Run("uses the oldest transfer", func(t *testing.T) {
		p := &stubProvider{
			transfers: []chain.Transfer{
				{BlockNum: 300},
				{BlockNum: 200},
				{BlockNum: 100},
			},
			blockTimes: map[uint64]time.Time{
				300: fixedNow.AddDate(0, 0, -1),
				100: fixedNow.AddDate(0, 0, -90),
			},
		}
		score, _ := newTestScorer(p).walletAge(context.Background(), p.transfers)
		assert.InDelta(t, 0.5, score, 1e-9)
	})
}

func TestBalanceScore(t *testing.T) {
	assert.Zero(t, balanceScore(nil))
	assert.Zero(t, balanceScore(big.NewInt(0)))
	assert.Zero(t, balanceScore(ethFraction(1, 2000))) // 0.0005 ETH is dust
	assert.InDelta(t, 1.0, balanceScore(chain.Ether(10)), 1e-12)
	assert.Equal(t, 1.0, balanceScore(chain.Ether(5000)))
	assert.InDelta(t, 0.28906, balanceScore(chain.Ether(1)), 1e-4)
}

func TestScore_Idempotent(t *testing.T) {
	p := perfectWallet()
	p.transfers = p.transfers[:137]
	p.blockTimes = map[uint64]time.Time{p.transfers[136].BlockNum: fixedNow.AddDate(0, 0, -45)}
	s := newTestScorer(p)

	first := s.Score(context.Background(), wallet)
	second := s.Score(context.Background(), wallet)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Components, second.Components)
}

func TestScore_InvariantsOnRandomWallets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{aaveV2, aaveV3, comptrol, uniV2, uniV3, oneInch, mixer, randomPeer, ""}

	for i := 0; i < 200; i++ {
		n := rng.Intn(150)
		transfers := make([]chain.Transfer, n)
		for j := range transfers {
			tr := chain.Transfer{
				From:               wallet,
				To:                 pool[rng.Intn(len(pool))],
				RawContractAddress: pool[rng.Intn(len(pool))],
				Value:              new(big.Int).Mul(big.NewInt(rng.Int63n(300)), chain.Ether(1)),
				Category:           chain.AllCategories[rng.Intn(len(chain.AllCategories))],
				BlockNum:           uint64(rng.Intn(3) * 1000),
			}
			if rng.Intn(4) == 0 {
				tr.GasPrice = chain.Gwei(rng.Int63n(300))
			}
			transfers[j] = tr
		}
		p := &stubProvider{
			balance:    chain.Ether(rng.Int63n(2000)),
			transfers:  transfers,
			tokens:     tokens(rng.Intn(8)),
			blockTimes: map[uint64]time.Time{1000: fixedNow.AddDate(0, 0, -rng.Intn(400)), 2000: fixedNow},
		}

		res := newTestScorer(p).Score(context.Background(), wallet)

		require.GreaterOrEqual(t, res.Score, 0)
		require.LessOrEqual(t, res.Score, 100)
		require.Equal(t, TierFor(res.Score), res.Tier)
		if res.RiskLevel == risk.LevelHigh {
			require.Less(t, res.Score, 20)
		}
		if res.Components != nil {
			require.GreaterOrEqual(t, res.Components.DeFi, 0.0)
			require.LessOrEqual(t, res.Components.DeFi, 1.0)
		}
	}
}
