package risk

import "strings"

// AddressSet is an immutable lowercase address set.
type AddressSet map[string]struct{}

// NewAddressSet builds a set, lowercasing every address.
func NewAddressSet(addrs ...string) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[strings.ToLower(a)] = struct{}{}
	}
	return s
}

// Has reports membership, ignoring case.
func (s AddressSet) Has(addr string) bool {
	if addr == "" {
		return false
	}
	_, ok := s[strings.ToLower(addr)]
	return ok
}

// Lists are the reference address sets the analyzer checks against.
type Lists struct {
	// SuspiciousContracts are mixers and burn/test sinks.
	SuspiciousContracts AddressSet
	// FlashLoanContracts are lending pools that offer flash loans.
	FlashLoanContracts AddressSet
	// KnownProtocols are high-volume addresses exempt from activity heuristics.
	KnownProtocols AddressSet
	// Sanctioned are OFAC-listed addresses.
	Sanctioned AddressSet
}

var defaultLists = Lists{
	SuspiciousContracts: NewAddressSet(
		// Tornado Cash
		"0x12D66f87A04A9E220743712Ce6d9bB1Ba5616C8a",
		"0x47CE0C6eD5B0Ce3d3A51fdb1C52DC66a7c3cB293",
		"0x910Cbd523D972eb0a6f4cAe4618aD62622b39DbF",
		"0xA160cdAB225685dA1d56aa342Ad8841c3b53f291",

		"0x0000000000000000000000000000000000000000", // null
		"0x000000000000000000000000000000000000dead", // burn
		"0x0000000000000000000000000000000000000001", // common test address
	),
	FlashLoanContracts: NewAddressSet(
		"0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9", // Aave V2 lending pool
		"0x4Ddc2D193948926D02f9B1fE9e1daa0718270ED5", // Compound cETH
	),
	KnownProtocols: NewAddressSet(
		"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
		"0xe592427a0aece92de3edee1f18e0157c05861564", // Uniswap V3 router
		"0x28c6c06298d514db089934071355e5743bf21d60", // Binance hot wallet
		"0x3f5ce5fbfe3e9af3971dd833d26ba9b5c936f0be", // Binance hot wallet
		"0x47ac0fb4f2d84898e4d9e7b4dab3c24507a6d503", // Binance hot wallet
		"0xd8da6bf26964af9d7eed9e03e53415d37aa96045", // vitalik.eth
		"0xab5801a7d398351b8be11c439e05c5b3259aec9b", // vitalik.eth (old)
	),
	Sanctioned: NewAddressSet(
		"0x8589427373d6d84e98730d7795d8f6f8731fda16",
		"0x722122df12d4e14e13ac3b6895a86e84145b6967",
		"0xdd4c48c0b24039969fc16d1cdf626eab821d3384",
		"0xd90e2f925da726b50c4ed8d0fb90ad053324f31b",
		"0xd96f2b1c14db8458374d9aca76e26c3d18364307",
		"0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc",
		"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf",
	),
}

// DefaultLists returns the built-in mainnet reference sets.
func DefaultLists() Lists {
	return defaultLists
}
