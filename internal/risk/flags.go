package risk

import "strings"

// flagRule maps factors containing any of its keywords to a flag template.
type flagRule struct {
	keywords []string
	level    Level
	category string
	severity Severity
}

// flagRules are evaluated top to bottom; the first match wins. Sanctions come
// first because the sanctions factor also mentions the mixer by name.
var flagRules = []flagRule{
	{[]string{"OFAC Sanctioned"}, LevelHigh, "SANCTIONS", SeverityCritical},
	{[]string{"Tornado Cash", "Suspicious contract"}, LevelHigh, "PRIVACY_MIXER", SeverityCritical},
	{[]string{"Flash loan", "MEV", "front-running"}, LevelHigh, "DEFI_ABUSE", SeverityCritical},
	{[]string{"Large transfers", "High gas price"}, LevelMedium, "TRANSACTION_PATTERN", SeverityWarning},
	{[]string{"Automated", "bot-like"}, LevelMedium, "BEHAVIOR_PATTERN", SeverityWarning},
	{[]string{"Round number", "test funds"}, LevelLow, "SUSPICIOUS_PATTERN", SeverityInfo},
	{[]string{"Limited transaction history", "No transaction history"}, LevelLow, "ACTIVITY_LEVEL", SeverityInfo},
	{[]string{"Suspicious address pattern"}, LevelMedium, "ADDRESS_PATTERN", SeverityWarning},
	{[]string{"High balance", "Round balance"}, LevelMedium, "BALANCE_PATTERN", SeverityWarning},
	{[]string{"High token activity"}, LevelMedium, "TOKEN_ACTIVITY", SeverityWarning},
	{[]string{"Liquidation avoidance"}, LevelHigh, "DEFI_ABUSE", SeverityCritical},
}

// ClassifyFactor turns a risk factor message into a structured flag.
// Unrecognized factors become MEDIUM/GENERAL/WARNING.
func ClassifyFactor(factor string) Flag {
	for _, r := range flagRules {
		for _, kw := range r.keywords {
			if strings.Contains(factor, kw) {
				return Flag{Type: r.level, Category: r.category, Message: factor, Severity: r.severity}
			}
		}
	}
	return Flag{Type: LevelMedium, Category: "GENERAL", Message: factor, Severity: SeverityWarning}
}

// ClassifyFactors classifies each factor, preserving order.
func ClassifyFactors(factors []string) []Flag {
	flags := make([]Flag, len(factors))
	for i, f := range factors {
		flags[i] = ClassifyFactor(f)
	}
	return flags
}
