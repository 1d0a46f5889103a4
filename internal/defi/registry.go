// Package defi recognizes DeFi protocol interactions in wallet transfers and
// turns them into a sophistication score.
package defi

import "strings"

// Category groups protocols by what they do.
type Category string

const (
	CategoryLending     Category = "lending"
	CategoryDEX         Category = "dex"
	CategoryYield       Category = "yield"
	CategoryDerivatives Category = "derivatives"
	CategoryInsurance   Category = "insurance"
	CategoryBridge      Category = "bridge"

	// CategoryTokenInteraction marks non-ETH ERC-20 transfers.
	CategoryTokenInteraction Category = "token_interaction"
)

// ProtocolCategories lists the registry categories in lookup order.
var ProtocolCategories = []Category{
	CategoryLending,
	CategoryDEX,
	CategoryYield,
	CategoryDerivatives,
	CategoryInsurance,
	CategoryBridge,
}

// Protocol is a known contract and the weight an interaction with it carries.
type Protocol struct {
	Address  string
	Name     string
	Category Category
	Weight   float64
}

// Registry is an immutable address → protocol table. An address may be listed
// under several categories. Safe for concurrent use.
type Registry struct {
	byCategory map[Category]map[string]Protocol
	patterns   map[Category][]string
}

// NewRegistry builds a registry from protocol entries and method-name
// patterns. Addresses and patterns are lowercased. Within a category the first
// entry for an address wins.
func NewRegistry(protocols []Protocol, patterns map[Category][]string) *Registry {
	r := &Registry{
		byCategory: make(map[Category]map[string]Protocol),
		patterns:   make(map[Category][]string, len(patterns)),
	}
	for _, p := range protocols {
		p.Address = strings.ToLower(p.Address)
		m, ok := r.byCategory[p.Category]
		if !ok {
			m = make(map[string]Protocol)
			r.byCategory[p.Category] = m
		}
		if _, dup := m[p.Address]; dup {
			continue
		}
		m[p.Address] = p
	}
	for cat, list := range patterns {
		lowered := make([]string, len(list))
		for i, s := range list {
			lowered[i] = strings.ToLower(s)
		}
		r.patterns[cat] = lowered
	}
	return r
}

// Lookup returns the protocol registered for address under category.
func (r *Registry) Lookup(category Category, address string) (Protocol, bool) {
	p, ok := r.byCategory[category][strings.ToLower(address)]
	return p, ok
}

// Match returns every registration of address, in ProtocolCategories order.
func (r *Registry) Match(address string) []Protocol {
	if address == "" {
		return nil
	}
	addr := strings.ToLower(address)
	var out []Protocol
	for _, cat := range ProtocolCategories {
		if p, ok := r.byCategory[cat][addr]; ok {
			out = append(out, p)
		}
	}
	return out
}

// IsKnown reports whether address appears under any category.
func (r *Registry) IsKnown(address string) bool {
	return len(r.Match(address)) > 0
}

// MatchMethod returns the pattern categories whose substrings occur in the
// decoded method name, in lending, dex, yield order.
func (r *Registry) MatchMethod(method string) []Category {
	if method == "" {
		return nil
	}
	name := strings.ToLower(method)
	var out []Category
	for _, cat := range []Category{CategoryLending, CategoryDEX, CategoryYield} {
		for _, p := range r.patterns[cat] {
			if strings.Contains(name, p) {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}

// Len returns the number of registrations across all categories.
func (r *Registry) Len() int {
	n := 0
	for _, m := range r.byCategory {
		n += len(m)
	}
	return n
}

// InteractionPatterns are method-name substrings that indicate protocol usage.
var InteractionPatterns = map[Category][]string{
	CategoryLending: {
		"supply", "withdraw", "borrow", "repay", "liquidation", "flashloan",
		"deposit", "redeem", "mint", "burn", "claim", "stake",
	},
	CategoryDEX: {
		"swap", "swapExactTokensForTokens", "swapTokensForExactTokens",
		"addLiquidity", "removeLiquidity", "migrate", "skim", "sync",
	},
	CategoryYield: {
		"stake", "unstake", "claim", "harvest", "compound", "reinvest",
		"deposit", "withdraw", "earn", "farm",
	},
}

// Mainnet protocol contracts.
var mainnetProtocols = []Protocol{
	// Lending
	{"0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9", "Aave V2 Lending Pool", CategoryLending, 1.0},
	{"0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", "Aave V3 Lending Pool", CategoryLending, 1.0},
	{"0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B", "Compound Comptroller", CategoryLending, 1.0},
	{"0xc00e94Cb662C3520282E6f5717214004A7f26888", "Compound COMP Token", CategoryLending, 0.8},
	{"0x4Ddc2D193948926D02f9B1fE9e1daa0718270ED5", "Compound cETH", CategoryLending, 0.9},
	{"0x39AA39c021dfbaE8faC545936693aC917d5E7563", "Compound cUSDC", CategoryLending, 0.9},
	{"0x70e36f6BF80a52b3B46b3aF8e106CC0ed743E8e4", "Compound cLEND", CategoryLending, 0.9},
	{"0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643", "Compound cDAI", CategoryLending, 0.9},
	{"0x35A18000230DA775CAc24873d00Ff85BccdeD550", "Compound cUNI", CategoryLending, 0.9},
	{"0x6B175474E89094C44Da98b954EedeAC495271d0F", "MakerDAO DAI", CategoryLending, 1.0},
	{"0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2", "MakerDAO MKR", CategoryLending, 1.0},
	{"0x35f1A3C0B6D81ccDe2164Cb5AC8CF9c1871f1931", "Euler Finance", CategoryLending, 0.9},
	{"0x27182842E098f60e3D576794A5bFFb0777E025d3", "Euler EToken", CategoryLending, 0.8},
	{"0x4e3FBD56CD56c3E72c1403e103b45Db9da5B9D2B", "Convex Finance", CategoryLending, 0.8},
	{"0x6c3F90f043a72FA612cbac8115EE7e52BDe6E490", "Curve 3Pool", CategoryLending, 0.9},
	{"0x5a6A4D5445683286F8c8c4C4C4C4C4C4C4C4C4C4", "Radiant Capital", CategoryLending, 0.8},

	// DEX
	{"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", "Uniswap V2 Router", CategoryDEX, 1.0},
	{"0xe592427a0aece92de3edee1f18e0157c05861564", "Uniswap V3 Router", CategoryDEX, 1.0},
	{"0x1F98431c8aD98523631AE4a59f267346ea31F984", "Uniswap V3 Factory", CategoryDEX, 0.8},
	{"0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45", "Uniswap V3 Swap Router", CategoryDEX, 1.0},
	{"0x1111111254EEB25477B68fb85Ed929f73A960582", "1inch V5 Router", CategoryDEX, 1.0},
	{"0x881D40237659C251811CEC9c364ef91dC08D300C", "Metamask Swap", CategoryDEX, 0.7},
	{"0x9008D19f58AAbD9eD0D60971565AA8510560ab41", "CoW Protocol", CategoryDEX, 0.8},
	{"0x3E66B66Fd1d0b02fDa6C811Da9E0547970DB2f21", "Balancer V2 Vault", CategoryDEX, 0.9},
	{"0xBA12222222228d8Ba445958a75a0704d566BF2C8", "Balancer V2 Router", CategoryDEX, 0.9},
	{"0x8301AE4fc9c624d1d396cbdaa1ed877821d7C511", "Curve Router", CategoryDEX, 0.9},
	{"0x99a58482BD75cbab83b27EC03CA68fF489b5788f", "Curve Registry", CategoryDEX, 0.8},

	// Yield
	{"0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9", "Aave AAVE Token", CategoryYield, 0.8},
	{"0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", "Uniswap UNI Token", CategoryYield, 0.8},
	{"0x6B3595068778DD592e39A122f4f5a5cF09C90fE2", "SushiSwap SUSHI", CategoryYield, 0.7},
	{"0x4e3FBD56CD56c3E72c1403e103b45Db9da5B9D2B", "Convex Finance", CategoryYield, 0.8},
	{"0x5a6A4D5445683286F8c8c4C4C4C4C4C4C4C4C4C4", "Yearn Finance", CategoryYield, 0.9},
	{"0x50c1a2eA0a861A967D9d0FFE2AE4012c2E053804", "Yearn Vault", CategoryYield, 0.9},
	{"0x3B3Ac5386837Dc563660FB6a0937DFAa5924333B", "Balancer BAL Token", CategoryYield, 0.7},

	// Derivatives
	{"0x4e3FBD56CD56c3E72c1403e103b45Db9da5B9D2B", "dYdX Exchange", CategoryDerivatives, 0.9},
	{"0x5a6A4D5445683286F8c8c4C4C4C4C4C4C4C4C4C4", "Opyn Protocol", CategoryDerivatives, 0.8},
	{"0x3B3Ac5386837Dc563660FB6a0937DFAa5924333B", "Ribbon Finance", CategoryDerivatives, 0.8},
	{"0x50c1a2eA0a861A967D9d0FFE2AE4012c2E053804", "Hegic Protocol", CategoryDerivatives, 0.7},

	// Insurance
	{"0x4e3FBD56CD56c3E72c1403e103b45Db9da5B9D2B", "Nexus Mutual", CategoryInsurance, 0.8},
	{"0x5a6A4D5445683286F8c8c4C4C4C4C4C4C4C4C4C4", "Cover Protocol", CategoryInsurance, 0.7},

	// Bridges
	{"0x4e3FBD56CD56c3E72c1403e103b45Db9da5B9D2B", "Polygon Bridge", CategoryBridge, 0.8},
	{"0x5a6A4D5445683286F8c8c4C4C4C4C4C4C4C4C4C4", "Arbitrum Bridge", CategoryBridge, 0.8},
	{"0x3B3Ac5386837Dc563660FB6a0937DFAa5924333B", "Optimism Bridge", CategoryBridge, 0.8},
	{"0x50c1a2eA0a861A967D9d0FFE2AE4012c2E053804", "Wormhole Bridge", CategoryBridge, 0.7},
}

var defaultRegistry = NewRegistry(mainnetProtocols, InteractionPatterns)

// DefaultRegistry returns the built-in mainnet registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
