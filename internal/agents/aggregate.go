package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer is the slice of the risk scoring engine the aggregate agent
// needs.
type Scorer interface {
	Score(ctx context.Context, txs []*domain.Transaction, entityID string, entityType domain.EntityType, isMerchantInvestigation bool) (*domain.RiskAssessment, error)
}

// AggregateAgent computes entity-level risk: prior fraud history, account
// age, and a composite score over the full transaction history. It is the
// agent that surfaces the metrics the routing engine's boost rules key on.
type AggregateAgent struct {
	repo   domain.Repository
	scorer Scorer
}

// NewAggregateAgent creates an aggregate risk agent.
func NewAggregateAgent(repo domain.Repository, scorer Scorer) *AggregateAgent {
	return &AggregateAgent{repo: repo, scorer: scorer}
}

func (a *AggregateAgent) Domain() string { return domain.DomainAggregate }

func (a *AggregateAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	txs, err := historyFor(ctx, a.repo, req)
	if err != nil {
		return nil, err
	}

	previousFraud, err := a.repo.CountFlaggedAssessments(ctx, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior flagged assessments: %w", err)
	}

	accountAge := accountAgeDays(txs)

	isMerchant := req.EntityType == domain.EntityMerchant
	assessment, err := a.scorer.Score(ctx, txs, req.EntityID, req.EntityType, isMerchant)
	if err != nil {
		return nil, fmt.Errorf("composite scoring failed: %w", err)
	}

	findings := domain.DomainFindings{
		Domain:    domain.DomainAggregate,
		RiskScore: assessment.OverallRiskScore,
		Metrics: map[string]float64{
			domain.MetricPreviousFraudCount: float64(previousFraud),
			domain.MetricAccountAgeDays:     accountAge,
			domain.MetricVelocityScore:      velocityFromState(req.State),
		},
	}
	for _, anomaly := range assessment.Anomalies {
		findings.RiskIndicators = append(findings.RiskIndicators, anomaly.Type)
	}
	if previousFraud > 0 {
		findings.RiskIndicators = append(findings.RiskIndicators, "prior_fraud_history")
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("%d prior flagged assessments on record", previousFraud))
	}
	if assessment.IsFlagged {
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("composite score %.2f at or above adaptive threshold %.2f",
				assessment.OverallRiskScore, assessment.ThresholdUsed))
		findings.RecommendedActions = append(findings.RecommendedActions, "escalate to fraud operations")
	}

	return &domain.AgentReport{
		Findings: findings,
		ToolCalls: []domain.ToolCall{
			{Name: "historical_assessment_lookup", Result: map[string]any{
				"previous_fraud_count": previousFraud,
				"account_age_days":     accountAge,
			}},
			{Name: "composite_risk_scoring", Result: map[string]any{
				"overall_risk_score": assessment.OverallRiskScore,
				"risk_level":         string(assessment.RiskLevel),
				"threshold_used":     assessment.ThresholdUsed,
				"is_flagged":         assessment.IsFlagged,
			}},
		},
	}, nil
}

// accountAgeDays approximates account age as the span since the earliest
// known transaction.
func accountAgeDays(txs []*domain.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	earliest := txs[0].Timestamp
	for _, tx := range txs[1:] {
		if tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
	}
	return time.Since(earliest).Hours() / 24
}

// velocityFromState reuses the activity agent's velocity metric when that
// domain already ran, so routing sees one consistent signal.
func velocityFromState(state *domain.InvestigationState) float64 {
	if state == nil {
		return 0
	}
	if f, ok := state.DomainFindings[domain.DomainActivity]; ok {
		return f.Metrics[domain.MetricVelocityScore]
	}
	return 0
}
