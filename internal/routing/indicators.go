package routing

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Indicators derives the fraud indicator vector from domain findings.
// Absent domains contribute 0.0. Account age defaults to a neutral value
// when the aggregate domain has not reported: an unknown age is not
// evidence of a young account.
func Indicators(s *domain.InvestigationState) domain.FraudIndicators {
	ind := domain.FraudIndicators{
		AccountAgeDays: neutralAccountDays,
	}

	if f, ok := s.DomainFindings[domain.DomainDevice]; ok {
		ind.DeviceAnomalyScore = clamp01(f.RiskScore)
	}
	if f, ok := s.DomainFindings[domain.DomainNetwork]; ok {
		ind.NetworkRiskScore = clamp01(f.RiskScore)
	}
	if f, ok := s.DomainFindings[domain.DomainLocation]; ok {
		ind.LocationRiskScore = clamp01(f.RiskScore)
	}
	if f, ok := s.DomainFindings[domain.DomainActivity]; ok {
		ind.ActivityRiskScore = clamp01(f.RiskScore)
		if v, ok := f.Metrics[domain.MetricVelocityScore]; ok {
			ind.VelocityScore = clamp01(v)
		}
	}
	if f, ok := s.DomainFindings[domain.DomainAggregate]; ok {
		if v, ok := f.Metrics[domain.MetricVelocityScore]; ok && ind.VelocityScore == 0 {
			ind.VelocityScore = clamp01(v)
		}
		if v, ok := f.Metrics[domain.MetricAccountAgeDays]; ok {
			ind.AccountAgeDays = math.Max(0, v)
		}
		if v, ok := f.Metrics[domain.MetricPreviousFraudCount]; ok {
			ind.PreviousFraudCount = int(v)
		}
	}

	return ind
}

// confidenceLevel is the fraction of populated indicators, adjusted for
// fraud history and account age: prior fraud raises confidence, a young
// account lowers it with a floor.
func confidenceLevel(ind domain.FraudIndicators) float64 {
	nonZero := 0
	for _, v := range []float64{
		ind.DeviceAnomalyScore,
		ind.NetworkRiskScore,
		ind.LocationRiskScore,
		ind.ActivityRiskScore,
		ind.VelocityScore,
	} {
		if v != 0 {
			nonZero++
		}
	}

	confidence := float64(nonZero) / 5.0
	if ind.PreviousFraudCount > 0 {
		confidence += confidencePrior
	}
	if ind.AccountAgeDays < newAccountDays {
		confidence = math.Max(confidenceFloor, confidence-confidencePenalty)
	}
	return math.Min(1.0, confidence)
}

// compositeScore is the weighted indicator sum with fraud-history and
// young-account boosts, capped at 1.0. Absent indicators contribute 0.0:
// risk accumulates as domains report, so tiers escalate step by step
// instead of jumping to critical on the first risky domain.
func compositeScore(ind domain.FraudIndicators) float64 {
	score := weightDevice*ind.DeviceAnomalyScore +
		weightNetwork*ind.NetworkRiskScore +
		weightLocation*ind.LocationRiskScore +
		weightActivity*ind.ActivityRiskScore +
		weightVelocity*ind.VelocityScore

	switch {
	case ind.PreviousFraudCount > 2:
		score += boostRepeatFraud
	case ind.PreviousFraudCount >= 1:
		score += boostPriorFraud
	}
	if ind.AccountAgeDays < youngAccountDays {
		score += boostYoungAccount
	}

	return math.Min(1.0, score)
}

// indicatorFor maps a domain to its indicator score for adaptive routing.
// The aggregate domain rides on the velocity signal.
func indicatorFor(ind domain.FraudIndicators, d string) float64 {
	switch d {
	case domain.DomainDevice:
		return ind.DeviceAnomalyScore
	case domain.DomainNetwork:
		return ind.NetworkRiskScore
	case domain.DomainLocation:
		return ind.LocationRiskScore
	case domain.DomainActivity:
		return ind.ActivityRiskScore
	case domain.DomainAggregate:
		return ind.VelocityScore
	default:
		return 0.0
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
