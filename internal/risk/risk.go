// Package risk detects bad-actor signals in wallet activity.
//
// A wallet is evaluated by three independent analyses: transaction patterns,
// DeFi abuse, and balance patterns. Each produces a capped 0-100 score and a
// list of human-readable factors. The wallet's total risk is the maximum of
// the three, so unrelated signals do not stack. Factors are then classified
// into structured flags.
package risk

// Level is the coarse risk classification of a wallet.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Severity ranks how urgently a flag should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Thresholds for risk levels.
const (
	HighThreshold   = 70
	MediumThreshold = 40

	// MaxScore caps every sub-analysis.
	MaxScore = 100
)

// Flag is a classified risk factor.
type Flag struct {
	Type     Level    `json:"type"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Verdict is the result of evaluating a wallet.
type Verdict struct {
	TotalRiskScore int      `json:"totalRiskScore"`
	RiskFactors    []string `json:"riskFactors"`
	RiskFlags      []Flag   `json:"riskFlags"`
	RiskLevel      Level    `json:"riskLevel"`
}

// LevelFor maps a total risk score to its level.
func LevelFor(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// subResult is the output of one sub-analysis.
type subResult struct {
	score   int
	factors []string
}

func (r *subResult) add(points int, factor string) {
	r.score += points
	r.factors = append(r.factors, factor)
}

func (r subResult) capped() subResult {
	if r.score > MaxScore {
		r.score = MaxScore
	}
	return r
}
