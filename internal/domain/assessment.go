package domain

import "time"

// RiskLevel buckets an overall risk score for downstream consumers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Anomaly is one detected anomaly in a risk assessment.
type Anomaly struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Anomaly type constants.
const (
	AnomalyStatistical = "statistical_anomaly"
	AnomalyMLOutlier   = "ml_outlier"
	AnomalyHeuristic   = "heuristic"
)

// RiskAssessment is the scoring engine's output for one entity.
type RiskAssessment struct {
	EntityID         string             `json:"entityId"`
	EntityType       EntityType         `json:"entityType"`
	OverallRiskScore float64            `json:"overallRiskScore"`
	RiskLevel        RiskLevel          `json:"riskLevel"`
	PerItemScores    map[string]float64 `json:"perItemScores,omitempty"`
	Anomalies        []Anomaly          `json:"anomalies,omitempty"`
	ThresholdUsed    float64            `json:"thresholdUsed"`
	IsFlagged        bool               `json:"isFlagged"`
	SampleSize       int                `json:"sampleSize"`
	GeneratedAt      time.Time          `json:"generatedAt"`
}
