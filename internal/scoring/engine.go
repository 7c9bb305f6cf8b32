// Package scoring implements the composite risk scoring engine: a
// heuristic feature calculator blended with an unsupervised outlier model
// and a digit-distribution conformance test, flagged against an adaptive
// per-entity threshold.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score blending constants. These are contract values, not tunables.
const (
	heuristicWeight   = 0.6
	mlWeight          = 0.4
	agreementBonus    = 0.1
	benfordItemBonus  = 0.1
	benfordBoost      = 0.3
	benfordBoostGate  = 0.5
	thresholdFloor    = 0.10
	thresholdCeiling  = 0.30
	defaultThreshold  = 0.20
	volumeTierHigh    = 10
	volumeTierMedium  = 5
	volumeTierLow     = 2
	mediumVolumeScale = 0.85
	lowVolumeScale    = 0.70
)

// defaultMerchantMultipliers scales the flag threshold by merchant
// category, matched case-insensitively as a substring of the entity's
// primary merchant name. Values below 1.0 lower the threshold for
// categories with historically high fraud rates.
var defaultMerchantMultipliers = map[string]float64{
	"casino":    0.60,
	"crypto":    0.60,
	"gift card": 0.70,
	"wire":      0.80,
	"jewelry":   0.80,
	"travel":    0.90,
	"grocery":   1.20,
	"utility":   1.30,
}

// Engine is the composite risk scoring engine.
type Engine struct {
	calc        FeatureCalculator
	seed        int64
	base        float64
	multipliers map[string]float64
	logger      *slog.Logger
}

// NewEngine creates a scoring engine around a feature calculator.
func NewEngine(calc FeatureCalculator, cfg domain.ScoringConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseThreshold
	if base <= 0 {
		base = defaultThreshold
	}
	return &Engine{
		calc:        calc,
		seed:        cfg.Seed,
		base:        base,
		multipliers: defaultMerchantMultipliers,
		logger:      logger,
	}
}

// Score produces a risk assessment for one entity's transaction history.
func (e *Engine) Score(ctx context.Context, txs []*domain.Transaction, entityID string, entityType domain.EntityType, isMerchantInvestigation bool) (*domain.RiskAssessment, error) {
	features, err := e.calc.Calculate(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("feature calculation failed: %w", err)
	}

	threshold := e.adaptiveThreshold(len(txs), domain.PrimaryMerchant(txs))

	ml, outlierCutoff := mlScores(txs, e.seed)
	if ml == nil && len(txs) > 0 {
		// Degraded-precision mode below the ML sample minimum, not an error.
		e.logger.Debug("ml stage skipped: insufficient samples",
			"entity_id", entityID,
			"sample_size", len(txs),
			"minimum", minMLSamples,
		)
	}

	benford := benfordScore(txs)

	assessment := &domain.RiskAssessment{
		EntityID:      entityID,
		EntityType:    entityType,
		PerItemScores: make(map[string]float64, len(txs)),
		Anomalies:     features.Anomalies,
		ThresholdUsed: threshold,
		SampleSize:    len(txs),
		GeneratedAt:   time.Now().UTC(),
	}

	adjustment := e.itemAdjustment(txs, isMerchantInvestigation)
	for _, tx := range txs {
		h := features.PerItemScores[tx.ID]
		combined := h
		if ml != nil {
			m := ml[tx.ID]
			combined = heuristicWeight*h + mlWeight*m
			if h > 0.5 && m > 0.5 {
				combined += agreementBonus
			}
			if m >= outlierCutoff {
				assessment.Anomalies = append(assessment.Anomalies, domain.Anomaly{
					Type:        domain.AnomalyMLOutlier,
					Description: "transaction " + tx.ID + " isolated early by the outlier model",
					Score:       m,
				})
			}
		}
		if benford > benfordBoostGate {
			combined += benfordItemBonus
		}
		assessment.PerItemScores[tx.ID] = clamp01(combined * adjustment)
	}

	overall := features.RiskScore
	if benford > benfordBoostGate {
		overall = clamp01(overall + benfordBoost)
		assessment.Anomalies = append(assessment.Anomalies, domain.Anomaly{
			Type:        domain.AnomalyStatistical,
			Description: "transaction amounts deviate from the natural first-digit distribution",
			Score:       benford,
		})
	}
	assessment.OverallRiskScore = overall
	assessment.RiskLevel = levelFor(overall)
	assessment.IsFlagged = overall >= threshold

	// A single transaction is never enough evidence to flag an entity.
	if len(txs) == 1 {
		assessment.IsFlagged = false
	}

	return assessment, nil
}

// adaptiveThreshold scales the base flag threshold by transaction volume
// and the primary merchant's risk multiplier, clamped to [0.10, 0.30].
func (e *Engine) adaptiveThreshold(txCount int, primaryMerchant string) float64 {
	threshold := e.base

	switch {
	case txCount >= volumeTierHigh:
		// full threshold
	case txCount >= volumeTierMedium:
		threshold *= mediumVolumeScale
	case txCount >= volumeTierLow:
		threshold *= lowVolumeScale
	}

	threshold *= e.merchantMultiplier(primaryMerchant)

	if threshold < thresholdFloor {
		return thresholdFloor
	}
	if threshold > thresholdCeiling {
		return thresholdCeiling
	}
	return threshold
}

// merchantMultiplier looks up a threshold multiplier by case-insensitive
// substring match against the merchant name. Unknown merchants get 1.0.
// A name matching several categories resolves to the lowest multiplier,
// keeping the lookup deterministic and erring toward flagging.
func (e *Engine) merchantMultiplier(merchant string) float64 {
	if merchant == "" {
		return 1.0
	}
	lower := strings.ToLower(merchant)
	mult, matched := 1.0, false
	for substr, m := range e.multipliers {
		if !strings.Contains(lower, substr) {
			continue
		}
		if !matched || m < mult {
			mult, matched = m, true
		}
	}
	return mult
}

// itemAdjustment is the multiplicative per-transaction adjustment for
// merchant investigations: categories that lower the flag threshold also
// amplify item scores, and trusted categories damp them.
func (e *Engine) itemAdjustment(txs []*domain.Transaction, isMerchantInvestigation bool) float64 {
	if !isMerchantInvestigation {
		return 1.0
	}
	return 2.0 - e.merchantMultiplier(domain.PrimaryMerchant(txs))
}

// levelFor buckets a risk score the same way the routing engine buckets
// composite scores, so verdict levels and complexity tiers line up.
func levelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 0.9:
		return domain.RiskCritical
	case score >= 0.5:
		return domain.RiskHigh
	case score >= 0.3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
