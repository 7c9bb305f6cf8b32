package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// boolBands maps a boolean rule's score to an outcome: 1.0 fails with the
// given reason, 0.0 passes.
func boolBands(failReason string) []domain.RuleBand {
	half := 0.5
	return []domain.RuleBand{
		{LowerLimit: &half, SubRuleRef: domain.RuleOutcomeFail, Reason: failReason},
		{UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "within normal behavior"},
	}
}

// BuiltinRules returns the default heuristic rule set. Deployments can
// replace or extend these via rule configs persisted in the repository.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "rule-high-amount",
			Name:        "High transaction amount",
			Description: "Flags transactions at or above 900 in the account currency",
			Version:     "1.0",
			Expression:  "amount >= 900.0",
			Bands:       boolBands("amount at or above high-value threshold"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "rule-night-activity",
			Name:        "Night-time activity",
			Description: "Flags transactions between midnight and 05:59 UTC",
			Version:     "1.0",
			Expression:  "hour < 6",
			Bands:       boolBands("transaction in night-time window"),
			Weight:      0.5,
			Enabled:     true,
		},
		{
			ID:          "rule-cross-border-prepaid",
			Name:        "Cross-border prepaid",
			Description: "Flags prepaid instruments used across borders, a common cash-out path",
			Version:     "1.0",
			Expression:  "cross_border && prepaid",
			Bands:       boolBands("prepaid instrument used cross-border"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "rule-velocity-burst",
			Name:        "Velocity burst",
			Description: "Flags entities with 5 or more transactions in the velocity window",
			Version:     "1.0",
			Expression:  "velocity_count >= 5",
			Bands:       boolBands("transaction burst in velocity window"),
			Weight:      0.8,
			Enabled:     true,
		},
		{
			ID:          "rule-foreign-country",
			Name:        "Foreign country",
			Description: "Flags transactions originating outside the entity's home country",
			Version:     "1.0",
			Expression:  `country != "" && home_country != "" && country != home_country`,
			Bands:       boolBands("transaction outside home country"),
			Weight:      0.6,
			Enabled:     true,
		},
	}
}
