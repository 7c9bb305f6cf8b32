package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ActivityAgent analyzes behavioral patterns in the activity log:
// transaction bursts and night-time usage.
type ActivityAgent struct {
	repo domain.Repository
}

// NewActivityAgent creates an activity analysis agent.
func NewActivityAgent(repo domain.Repository) *ActivityAgent {
	return &ActivityAgent{repo: repo}
}

func (a *ActivityAgent) Domain() string { return domain.DomainActivity }

func (a *ActivityAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	txs, err := historyFor(ctx, a.repo, req)
	if err != nil {
		return nil, err
	}

	night := 0
	burst := maxHourlyBurst(txs)
	for _, tx := range txs {
		if tx.Timestamp.UTC().Hour() < 6 {
			night++
		}
	}
	nightRatio := ratio(night, len(txs))

	velocity := 0.0
	switch {
	case burst >= 10:
		velocity = 1.0
	case burst >= 5:
		velocity = 0.6
	case burst >= 3:
		velocity = 0.3
	}

	score := clamp01(0.6*velocity + 0.4*nightRatio)

	findings := domain.DomainFindings{
		Domain:    domain.DomainActivity,
		RiskScore: score,
		Metrics: map[string]float64{
			domain.MetricVelocityScore: velocity,
			"max_hourly_burst":         float64(burst),
			"night_ratio":              nightRatio,
		},
	}
	if velocity >= 0.6 {
		findings.RiskIndicators = append(findings.RiskIndicators, "transaction_burst")
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("up to %d transactions within one hour", burst))
		findings.RecommendedActions = append(findings.RecommendedActions, "apply velocity limits pending review")
	}
	if nightRatio > 0.5 {
		findings.RiskIndicators = append(findings.RiskIndicators, "night_time_pattern")
	}

	return &domain.AgentReport{
		Findings: findings,
		ToolCalls: []domain.ToolCall{
			{Name: "activity_log_scan", Result: map[string]any{
				"sample_size": len(txs),
				"night_ratio": nightRatio,
			}},
			{Name: "session_velocity_check", Result: map[string]any{
				"max_hourly_burst": burst,
			}},
		},
	}, nil
}

// maxHourlyBurst returns the largest number of transactions falling into
// any single sliding one-hour window.
func maxHourlyBurst(txs []*domain.Transaction) int {
	if len(txs) == 0 {
		return 0
	}
	max := 1
	for i := range txs {
		count := 0
		window := txs[i].Timestamp.Add(time.Hour)
		for _, other := range txs {
			if !other.Timestamp.Before(txs[i].Timestamp) && other.Timestamp.Before(window) {
				count++
			}
		}
		if count > max {
			max = count
		}
	}
	return max
}
