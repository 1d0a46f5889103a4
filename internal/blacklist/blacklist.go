// Package blacklist holds the set of known bad-actor wallets that always
// receive the minimum reputation score.
package blacklist

import "strings"

// DefaultReason is returned for listed addresses without a specific reason.
const DefaultReason = "Blacklisted Address"

// List is an immutable, case-insensitive address set. Safe for concurrent use.
type List struct {
	reasons map[string]string
}

// New builds a list from address → reason pairs. An empty reason falls back
// to DefaultReason.
func New(entries map[string]string) *List {
	l := &List{reasons: make(map[string]string, len(entries))}
	for addr, reason := range entries {
		if reason == "" {
			reason = DefaultReason
		}
		l.reasons[strings.ToLower(addr)] = reason
	}
	return l
}

var defaultList = New(map[string]string{
	// Hackers and exploiters
	"0x098B716B8Aaf21512996dC57EB0615e2383E2f96": "Ronin Bridge Hacker ($600M+)",
	"0xC8a65Fadf0e0dDAf421F28FEAb69Bf6E2E589963": "Poly Network Hacker ($600M+)",
	"0x0d043128146654C7683Fbf30ac98D7B2285DeD00": "Harmony Bridge Hacker ($100M+)",
	"0x1A5cd1e32a2C2c8e0963a99C6Bd8c5C3B3E8B5B1": "Nomad Bridge Hacker ($190M+)",

	// Scams and rug pulls
	"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6": "Known Exit Scam",
	"0x1e12b042201a20f7295c0e9b490dc35754961937": "Known Rug Pull",

	// Sanctioned
	"0x12D66f87A04A9E220743712Ce6d9bB1Ba5616C8a": "Tornado Cash (Sanctioned)",
	"0x47CE0C6eD5B0Ce3d3A51fdb1C52DC66a7c3cB293": "Tornado Cash (Sanctioned)",

	// Spam and attack wallets
	"0x0000000000000000000000000000000000000003": "Known Spam Wallet",
	"0x0000000000000000000000000000000000000004": "Known Attack Wallet",
})

// Default returns the built-in list.
func Default() *List {
	return defaultList
}

// IsBlacklisted reports whether addr is on the list, ignoring case.
func (l *List) IsBlacklisted(addr string) bool {
	_, ok := l.reasons[strings.ToLower(addr)]
	return ok
}

// Reason returns the canned reason for addr, or DefaultReason when the
// address has none.
func (l *List) Reason(addr string) string {
	if r, ok := l.reasons[strings.ToLower(addr)]; ok {
		return r
	}
	return DefaultReason
}

// Len returns the number of listed addresses.
func (l *List) Len() int {
	return len(l.reasons)
}
