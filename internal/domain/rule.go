package domain

// RuleConfig defines a heuristic fraud rule evaluated per transaction.
// Rules are the scoring engine's feature calculator: their weighted
// outcomes produce the heuristic risk component.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []RuleBand `json:"bands"`

	// Rule weight in heuristic aggregation
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation for one transaction.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	TxID       string  `json:"txId"`
	SubRuleRef string  `json:"subRuleRef"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
