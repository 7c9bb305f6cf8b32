package agents

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LocationAgent analyzes geography: cross-border activity and distance
// from the entity's home country.
type LocationAgent struct {
	repo domain.Repository
}

// NewLocationAgent creates a location analysis agent.
func NewLocationAgent(repo domain.Repository) *LocationAgent {
	return &LocationAgent{repo: repo}
}

func (a *LocationAgent) Domain() string { return domain.DomainLocation }

func (a *LocationAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	txs, err := historyFor(ctx, a.repo, req)
	if err != nil {
		return nil, err
	}

	countries := make(map[string]int)
	crossBorder := 0
	foreign := 0
	for _, tx := range txs {
		if tx.Country != "" {
			countries[tx.Country]++
			if tx.HomeCountry != "" && tx.Country != tx.HomeCountry {
				foreign++
			}
		}
		if tx.CrossBorder {
			crossBorder++
		}
	}

	crossBorderRatio := ratio(crossBorder, len(txs))
	foreignRatio := ratio(foreign, len(txs))

	score := 0.5*crossBorderRatio + 0.3*foreignRatio
	if len(countries) > 3 {
		score += 0.2
	}
	score = clamp01(score)

	findings := domain.DomainFindings{
		Domain:    domain.DomainLocation,
		RiskScore: score,
		Metrics: map[string]float64{
			"distinct_countries": float64(len(countries)),
			"cross_border_ratio": crossBorderRatio,
			"foreign_ratio":      foreignRatio,
		},
	}
	if crossBorderRatio > 0.5 {
		findings.RiskIndicators = append(findings.RiskIndicators, "cross_border_majority")
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("%.0f%% of transactions are cross-border", crossBorderRatio*100))
	}
	if len(countries) > 3 {
		findings.RiskIndicators = append(findings.RiskIndicators, "multi_country_activity")
		findings.RecommendedActions = append(findings.RecommendedActions, "verify recent travel with the account holder")
	}

	return &domain.AgentReport{
		Findings: findings,
		ToolCalls: []domain.ToolCall{
			{Name: "geolocation_lookup", Result: map[string]any{
				"distinct_countries": len(countries),
			}},
			{Name: "travel_pattern_analysis", Result: map[string]any{
				"cross_border_ratio": crossBorderRatio,
				"foreign_ratio":      foreignRatio,
			}},
		},
	}, nil
}
