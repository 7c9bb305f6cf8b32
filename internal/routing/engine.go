// Package routing implements the adaptive routing and complexity engine:
// given the current investigation state, it decides the next domain to
// analyze, whether agents run in parallel, and when to stop.
package routing

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Composite score weights per indicator. Policy constants: reproduced
// exactly for behavioral compatibility.
const (
	weightDevice   = 0.25
	weightNetwork  = 0.25
	weightLocation = 0.20
	weightActivity = 0.20
	weightVelocity = 0.10

	boostRepeatFraud   = 0.30 // previous_fraud_count > 2
	boostPriorFraud    = 0.15 // previous_fraud_count 1-2
	boostYoungAccount  = 0.20 // account_age_days < 7
	confidencePrior    = 0.20 // previous_fraud_count > 0
	confidencePenalty  = 0.20 // account_age_days < 30
	confidenceFloor    = 0.30
	youngAccountDays   = 7
	newAccountDays     = 30
	neutralAccountDays = 365

	earlyEndConfidence = 0.9
	earlyEndComposite  = 0.1

	reviewConfidence = 0.5
)

// Engine is the routing/complexity engine. It is stateless: every call
// derives its decision solely from the investigation state, so concurrent
// investigations can share one engine.
type Engine struct {
	cfg domain.RoutingConfig
}

// NewEngine creates a routing engine with the given policy.
func NewEngine(cfg domain.RoutingConfig) *Engine {
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = 6
	}
	if cfg.MaxDomains <= 0 {
		cfg.MaxDomains = 4
	}
	if cfg.LowRiskCutoff <= 0 {
		cfg.LowRiskCutoff = 0.1
	}
	return &Engine{cfg: cfg}
}

// Decide emits the routing decision for the next orchestrator step. It
// never panics or errors outward: malformed findings degrade to zero
// indicators, and any internal failure falls back to the safest route.
// The caller records the returned decision into the state's audit trail.
func (e *Engine) Decide(s *domain.InvestigationState) (decision domain.RoutingDecision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("routing anomaly, degrading to safe route",
				"investigation_id", s.InvestigationID,
				"panic", fmt.Sprint(r),
			)
			decision = e.safeRoute(s, fmt.Sprintf("routing anomaly: %v", r))
		}
	}()

	// Safety limits dominate all other logic: bound worst-case cost.
	if forced, reason := e.safetyLimit(s); forced {
		return domain.RoutingDecision{
			Action: domain.ActionEnd,
			Tier:   e.tierFor(s.RiskScore),
			Reason: reason,
		}
	}

	ind := Indicators(s)
	confidence := confidenceLevel(ind)
	ind.ConfidenceLevel = confidence
	composite := compositeScore(ind)

	// High-confidence low-risk short-circuit.
	if confidence > earlyEndConfidence && composite < earlyEndComposite {
		return domain.RoutingDecision{
			Action:     domain.ActionEnd,
			Tier:       domain.TierLow,
			Composite:  composite,
			Confidence: confidence,
			Indicators: ind,
			Reason:     "high confidence, low risk",
		}
	}

	tier := e.tierFor(composite)
	strat := strategyFor(tier)

	base := domain.RoutingDecision{
		Tier:       tier,
		Parallel:   strat.Parallel,
		Timeout:    strat.Timeout,
		Domains:    strat.Domains,
		Composite:  composite,
		Confidence: confidence,
		Indicators: ind,
	}

	// Critical investigations with shaky confidence go to a human.
	if tier == domain.TierCritical && confidence < reviewConfidence {
		base.Action = domain.ActionHumanReview
		base.Reason = "critical tier with low confidence"
		return base
	}

	next, ok := e.nextDomain(s, strat, ind)
	if !ok {
		base.Action = domain.ActionEnd
		base.Reason = "no remaining domains in scope"
		return base
	}
	if next == "" {
		base.Action = domain.ActionEnd
		base.Reason = "remaining indicators below low-risk cutoff"
		return base
	}

	base.Action = domain.ActionContinue
	base.NextDomain = next
	base.Reason = fmt.Sprintf("%s tier continues with %s", tier, next)
	return base
}

// safetyLimit reports whether the forced-termination rule applies.
func (e *Engine) safetyLimit(s *domain.InvestigationState) (bool, string) {
	if s.Phase == domain.PhaseErrors {
		return true, "investigation cancelled"
	}
	if len(s.DomainsCompleted) >= e.cfg.MaxDomains {
		return true, fmt.Sprintf("domain safety limit reached (%d)", len(s.DomainsCompleted))
	}
	if s.OrchestratorLoops >= e.cfg.MaxLoops {
		return true, fmt.Sprintf("loop safety limit reached (%d)", s.OrchestratorLoops)
	}
	if max := s.Config.MaxTools; max > 0 && len(s.ToolsUsed) >= max {
		return true, fmt.Sprintf("tool safety limit reached (%d)", len(s.ToolsUsed))
	}
	return false, ""
}

// safeRoute is the degraded decision after an internal error: the network
// domain when capacity remains, end otherwise.
func (e *Engine) safeRoute(s *domain.InvestigationState, reason string) domain.RoutingDecision {
	if forced, why := e.safetyLimit(s); forced {
		return domain.RoutingDecision{Action: domain.ActionEnd, Tier: domain.TierLow, Reason: why}
	}
	strat := strategyFor(domain.TierLow)
	return domain.RoutingDecision{
		Action:     domain.ActionContinue,
		NextDomain: domain.DomainNetwork,
		Tier:       domain.TierLow,
		Timeout:    strat.Timeout,
		Domains:    strat.Domains,
		Reason:     reason,
	}
}

// tierFor maps a composite score to a complexity tier. Scores between the
// high and critical thresholds stay in the high tier.
func (e *Engine) tierFor(composite float64) domain.ComplexityTier {
	switch {
	case composite >= e.cfg.CriticalThreshold:
		return domain.TierCritical
	case composite < e.cfg.LowThreshold:
		return domain.TierLow
	case composite < e.cfg.MediumThreshold:
		return domain.TierMedium
	default:
		return domain.TierHigh
	}
}

// nextDomain picks the next not-yet-completed domain. Sequential mode
// walks the tier's ordered list (list order is the tie-break). Adaptive
// mode picks the highest remaining indicator, tie-broken by the fixed
// domain priority order, and returns "" when the best remaining indicator
// sits below the low-risk cutoff. The second return is false when the
// tier's scope is exhausted.
func (e *Engine) nextDomain(s *domain.InvestigationState, strat Strategy, ind domain.FraudIndicators) (string, bool) {
	remaining := make([]string, 0, len(strat.Domains))
	for _, d := range strat.Domains {
		if !s.HasDomain(d) {
			remaining = append(remaining, d)
		}
	}
	if len(remaining) == 0 {
		return "", false
	}

	if !e.cfg.Adaptive {
		return remaining[0], true
	}

	best, bestScore := "", -1.0
	for _, d := range remaining {
		score := indicatorFor(ind, d)
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	if bestScore < e.cfg.LowRiskCutoff {
		return "", true
	}
	return best, true
}
