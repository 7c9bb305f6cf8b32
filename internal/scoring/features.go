package scoring

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// FeatureResult is the feature calculator's output for one entity.
type FeatureResult struct {
	// RiskScore is the entity-level heuristic risk in [0,1].
	RiskScore float64

	// RiskLevel buckets RiskScore.
	RiskLevel domain.RiskLevel

	// Features holds named aggregate feature values.
	Features map[string]float64

	// PerItemScores holds the per-transaction heuristic risk in [0,1].
	PerItemScores map[string]float64

	// Anomalies lists transactions whose heuristic risk crossed 0.5.
	Anomalies []domain.Anomaly
}

// FeatureCalculator turns a transaction list into heuristic risk features.
// The rule engine is the default implementation; the interface exists so
// deployments can substitute their own feature pipeline.
type FeatureCalculator interface {
	Calculate(ctx context.Context, txs []*domain.Transaction) (*FeatureResult, error)
}

// RuleCalculator computes heuristic features by evaluating the CEL rule
// set against every transaction. A transaction's heuristic risk is the
// weight-normalized sum of its failing rules' scores.
type RuleCalculator struct {
	engine         *rules.Engine
	velocityWindow int // seconds
}

// NewRuleCalculator wraps a loaded rule engine as a feature calculator.
func NewRuleCalculator(engine *rules.Engine, velocityWindowSecs int) *RuleCalculator {
	if velocityWindowSecs <= 0 {
		velocityWindowSecs = 3600
	}
	return &RuleCalculator{engine: engine, velocityWindow: velocityWindowSecs}
}

// Calculate evaluates the rule set per transaction and aggregates entity
// level features.
func (c *RuleCalculator) Calculate(ctx context.Context, txs []*domain.Transaction) (*FeatureResult, error) {
	result := &FeatureResult{
		RiskLevel:     domain.RiskLow,
		Features:      make(map[string]float64),
		PerItemScores: make(map[string]float64, len(txs)),
	}
	if len(txs) == 0 {
		return result, nil
	}

	var (
		entitySum    float64
		failCounts   = make(map[string]int)
		crossBorder  int
		prepaid      int
		totalAmount  float64
		maxAmount    float64
		deviceCounts = make(map[string]int)
	)

	for _, tx := range txs {
		ruleResults, err := c.engine.EvaluateAll(ctx, &rules.EvaluateInput{
			Transaction:    tx,
			VelocityWindow: c.velocityWindow,
		})
		if err != nil {
			return nil, err
		}

		var weighted, totalWeight float64
		for _, r := range ruleResults {
			if r.Weight <= 0 {
				continue
			}
			totalWeight += r.Weight
			if r.SubRuleRef == domain.RuleOutcomeFail {
				weighted += r.Weight * r.Score
				failCounts[r.RuleID]++
			}
		}

		score := 0.0
		if totalWeight > 0 {
			score = clamp01(weighted / totalWeight)
		}
		result.PerItemScores[tx.ID] = score
		entitySum += score

		if score > 0.5 {
			result.Anomalies = append(result.Anomalies, domain.Anomaly{
				Type:        domain.AnomalyHeuristic,
				Description: "transaction " + tx.ID + " failed weighted rule checks",
				Score:       score,
			})
		}

		if tx.CrossBorder {
			crossBorder++
		}
		if tx.Prepaid {
			prepaid++
		}
		totalAmount += tx.Amount
		if tx.Amount > maxAmount {
			maxAmount = tx.Amount
		}
		if tx.DeviceID != "" {
			deviceCounts[tx.DeviceID]++
		}
	}

	n := float64(len(txs))
	result.RiskScore = clamp01(entitySum / n)
	result.RiskLevel = levelFor(result.RiskScore)

	result.Features["tx_count"] = n
	result.Features["mean_amount"] = totalAmount / n
	result.Features["max_amount"] = maxAmount
	result.Features["cross_border_ratio"] = float64(crossBorder) / n
	result.Features["prepaid_ratio"] = float64(prepaid) / n
	result.Features["device_concentration"] = deviceConcentration(deviceCounts, len(txs))
	for ruleID, count := range failCounts {
		result.Features["fail_ratio:"+ruleID] = float64(count) / n
	}

	return result, nil
}

// deviceConcentration is the share of transactions on the single most
// used device. A value near 1.0 with many transactions suggests scripted
// activity from one fingerprint.
func deviceConcentration(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(total)
}
