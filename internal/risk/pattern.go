package risk

import "strings"

// PatternResult describes how suspicious an address looks on its own.
type PatternResult struct {
	IsSuspicious bool
	RiskScore    int
	Reason       string
}

// sequence holds every ascending 6-char hex window, wrapping f → 0.
const sequence = "0123456789abcdef01234"

const (
	runLength      = 6 // identical consecutive characters
	pairRepeats    = 5 // contiguous repetitions of a 2-char unit
	windowLength   = 6
	addressBodyLen = 40
)

var testWords = []string{"dead", "beef", "cafe", "babe", "face"}

var (
	allZeros = strings.Repeat("0", addressBodyLen)
	allOnes  = strings.Repeat("1", addressBodyLen)
)

// AnalyzeAddressPattern checks an address for vanity or test-like shapes.
// Rules run in a fixed order and each match replaces the score and reason of
// the previous one, so only the last matching rule is reported.
func AnalyzeAddressPattern(address string) PatternResult {
	body := strings.TrimPrefix(strings.ToLower(address), "0x")
	var res PatternResult

	set := func(score int, reason string) {
		res.IsSuspicious = true
		res.RiskScore = score
		res.Reason = reason
	}

	if hasRun(body, runLength) {
		set(20, "Extreme repeating character pattern detected")
	}
	if hasSequence(body) {
		set(25, "Extreme sequential character pattern detected")
	}
	if body == allZeros {
		set(30, "All zeros pattern detected")
	}
	if body == allOnes {
		set(10, "All ones pattern detected (vanity address)")
	}
	for _, w := range testWords {
		if strings.Contains(body, w) {
			set(25, "Common test pattern detected")
			break
		}
	}
	if hasRepeatedPair(body, pairRepeats) {
		set(25, "Extreme repeating 2-character pattern detected")
	}

	return res
}

// hasRun reports whether s has n or more identical consecutive bytes.
func hasRun(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return n <= 1 && len(s) > 0
}

func hasSequence(s string) bool {
	for i := 0; i+windowLength <= len(sequence); i++ {
		if strings.Contains(s, sequence[i:i+windowLength]) {
			return true
		}
	}
	return false
}

// hasRepeatedPair reports whether some 2-byte unit occurs n times back to back.
func hasRepeatedPair(s string, n int) bool {
	span := 2 * n
	for i := 0; i+span <= len(s); i++ {
		unit := s[i : i+2]
		ok := true
		for k := 1; k < n; k++ {
			if s[i+2*k:i+2*k+2] != unit {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
