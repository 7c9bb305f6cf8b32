package domain

import "time"

// RoutingAction is the routing engine's verdict for the next step.
type RoutingAction string

const (
	ActionContinue    RoutingAction = "continue"
	ActionHumanReview RoutingAction = "human_review"
	ActionEnd         RoutingAction = "end"
)

// ComplexityTier selects the investigation strategy.
type ComplexityTier string

const (
	TierLow      ComplexityTier = "low"
	TierMedium   ComplexityTier = "medium"
	TierHigh     ComplexityTier = "high"
	TierCritical ComplexityTier = "critical"
)

// FraudIndicators is the ephemeral per-decision indicator vector, always
// recomputed from domain findings and never persisted independently.
type FraudIndicators struct {
	DeviceAnomalyScore float64 `json:"deviceAnomalyScore"`
	NetworkRiskScore   float64 `json:"networkRiskScore"`
	LocationRiskScore  float64 `json:"locationRiskScore"`
	ActivityRiskScore  float64 `json:"activityRiskScore"`
	VelocityScore      float64 `json:"velocityScore"`
	AccountAgeDays     float64 `json:"accountAgeDays"`
	PreviousFraudCount int     `json:"previousFraudCount"`
	ConfidenceLevel    float64 `json:"confidenceLevel"`
}

// RoutingDecision is the routing engine's full output for one step.
type RoutingDecision struct {
	Action     RoutingAction   `json:"action"`
	NextDomain string          `json:"nextDomain,omitempty"`
	Domains    []string        `json:"domains,omitempty"`
	Tier       ComplexityTier  `json:"tier"`
	Parallel   bool            `json:"parallel"`
	Timeout    time.Duration   `json:"timeout"`
	Composite  float64         `json:"composite"`
	Confidence float64         `json:"confidence"`
	Indicators FraudIndicators `json:"indicators"`
	Reason     string          `json:"reason"`
}

// RoutingConfig holds the routing engine's tunables. The tier thresholds
// and safety limits are policy constants; they default to the documented
// values and are snapshotted per investigation via InvestigationConfig.
type RoutingConfig struct {
	LowThreshold      float64
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	// LowRiskCutoff is the adaptive-mode indicator floor below which the
	// engine skips straight to final aggregation.
	LowRiskCutoff float64

	MaxLoops   int
	MaxDomains int
	Adaptive   bool
}

// DefaultRoutingConfig returns the documented routing policy.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		LowThreshold:      0.3,
		MediumThreshold:   0.5,
		HighThreshold:     0.7,
		CriticalThreshold: 0.9,
		LowRiskCutoff:     0.1,
		MaxLoops:          6,
		MaxDomains:        4,
	}
}
