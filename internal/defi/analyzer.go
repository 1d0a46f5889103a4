package defi

import (
	"math"
	"sort"

	"github.com/mbd888/oro/internal/chain"
)

// Interaction sources.
const (
	SourceContract      = "contract"
	SourceToAddress     = "to_address"
	SourceERC20Transfer = "erc20_transfer"
)

// Weights applied on top of protocol weights.
const (
	toAddressFactor    = 0.8
	tokenTransferScore = 0.3
	methodMatchScore   = 0.5
)

// Score component caps and divisors.
const (
	maxProtocolDiversity = 0.4
	protocolDivisor      = 15.0
	maxCategoryDiversity = 0.3
	categoryDivisor      = 6.0
	maxInteraction       = 0.3
	interactionDivisor   = 20.0

	lendingDexBonus  = 0.10
	yieldBonus       = 0.05
	derivativesBonus = 0.05
)

// Interaction is one recognized protocol touch.
type Interaction struct {
	Protocol string   `json:"protocol"`
	Category Category `json:"category"`
	Weight   float64  `json:"weight"`
	Address  string   `json:"address"`
	Source   string   `json:"source"`
}

// TxAnalysis is the DeFi reading of a single transfer.
type TxAnalysis struct {
	Protocols     map[string]struct{}
	Categories    map[Category]struct{}
	WeightedScore float64
	Interactions  []Interaction
}

// Summary is the aggregate DeFi reading of a transfer list.
type Summary struct {
	Score          float64              `json:"score"`
	ProtocolCount  int                  `json:"protocolCount"`
	CategoryCount  int                  `json:"categoryCount"`
	WeightedScore  float64              `json:"weightedScore"`
	Protocols      []string             `json:"protocols"`
	Categories     []Category           `json:"categories"`
	CategoryScores map[Category]float64 `json:"categoryScores"`
	Interactions   []Interaction        `json:"interactions,omitempty"`
}

// Analyzer scores DeFi sophistication. It holds no mutable state and is safe
// for concurrent use.
type Analyzer struct {
	registry *Registry
}

// NewAnalyzer creates an analyzer over registry, or the default registry when nil.
func NewAnalyzer(registry *Registry) *Analyzer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Analyzer{registry: registry}
}

// Registry returns the protocol table the analyzer matches against.
func (a *Analyzer) Registry() *Registry {
	return a.registry
}

// AnalyzeTransaction reads one transfer. The raw contract and the recipient
// are matched independently, so a transfer touching the same protocol both
// ways counts twice.
func (a *Analyzer) AnalyzeTransaction(tx chain.Transfer) TxAnalysis {
	res := TxAnalysis{
		Protocols:  make(map[string]struct{}),
		Categories: make(map[Category]struct{}),
	}

	add := func(p Protocol, weight float64, address, source string) {
		res.Protocols[p.Name] = struct{}{}
		res.Categories[p.Category] = struct{}{}
		res.WeightedScore += weight
		res.Interactions = append(res.Interactions, Interaction{
			Protocol: p.Name,
			Category: p.Category,
			Weight:   weight,
			Address:  address,
			Source:   source,
		})
	}

	for _, p := range a.registry.Match(tx.RawContractAddress) {
		add(p, p.Weight, p.Address, SourceContract)
	}
	for _, p := range a.registry.Match(tx.To) {
		add(p, p.Weight*toAddressFactor, p.Address, SourceToAddress)
	}

	if tx.Category == chain.CategoryERC20 && tx.Asset != "" && tx.Asset != "ETH" {
		res.Categories[CategoryTokenInteraction] = struct{}{}
		res.WeightedScore += tokenTransferScore
		to := tx.To
		if to == "" {
			to = "unknown"
		}
		res.Interactions = append(res.Interactions, Interaction{
			Protocol: "Token: " + tx.Asset,
			Category: CategoryTokenInteraction,
			Weight:   tokenTransferScore,
			Address:  to,
			Source:   SourceERC20Transfer,
		})
	}

	for _, cat := range a.registry.MatchMethod(tx.MethodName) {
		res.Categories[cat] = struct{}{}
		res.WeightedScore += methodMatchScore
	}

	return res
}

// CalculateDeFiScore returns a sophistication score in [0, 1]. An empty
// transfer list scores 0.
func (a *Analyzer) CalculateDeFiScore(transfers []chain.Transfer) float64 {
	return a.Analyze(transfers).Score
}

// Analyze aggregates every transfer into a detailed summary. Each transfer's
// whole weighted score is credited to every category it touched.
func (a *Analyzer) Analyze(transfers []chain.Transfer) Summary {
	sum := Summary{
		Protocols:      []string{},
		Categories:     []Category{},
		CategoryScores: make(map[Category]float64, len(ProtocolCategories)),
	}
	for _, cat := range ProtocolCategories {
		sum.CategoryScores[cat] = 0
	}
	if len(transfers) == 0 {
		return sum
	}

	protocols := make(map[string]struct{})
	categories := make(map[Category]struct{})

	for _, tx := range transfers {
		txa := a.AnalyzeTransaction(tx)
		for p := range txa.Protocols {
			protocols[p] = struct{}{}
		}
		for c := range txa.Categories {
			categories[c] = struct{}{}
			sum.CategoryScores[c] += txa.WeightedScore
		}
		sum.WeightedScore += txa.WeightedScore
		sum.Interactions = append(sum.Interactions, txa.Interactions...)
	}

	for p := range protocols {
		sum.Protocols = append(sum.Protocols, p)
	}
	sort.Strings(sum.Protocols)
	for c := range categories {
		sum.Categories = append(sum.Categories, c)
	}
	sort.Slice(sum.Categories, func(i, j int) bool { return sum.Categories[i] < sum.Categories[j] })
	sum.ProtocolCount = len(protocols)
	sum.CategoryCount = len(categories)

	score := math.Min(maxProtocolDiversity, float64(sum.ProtocolCount)/protocolDivisor)
	score += math.Min(maxCategoryDiversity, float64(sum.CategoryCount)/categoryDivisor)
	score += math.Min(maxInteraction, sum.WeightedScore/interactionDivisor)

	if sum.CategoryScores[CategoryLending] > 0 && sum.CategoryScores[CategoryDEX] > 0 {
		score += lendingDexBonus
	}
	if sum.CategoryScores[CategoryYield] > 0 {
		score += yieldBonus
	}
	if sum.CategoryScores[CategoryDerivatives] > 0 {
		score += derivativesBonus
	}

	sum.Score = math.Min(1, math.Max(0, score))
	return sum
}
