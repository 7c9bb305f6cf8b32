// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// EntityType classifies the subject of an investigation.
type EntityType string

const (
	EntityUser        EntityType = "user"
	EntityDevice      EntityType = "device"
	EntityIP          EntityType = "ip"
	EntityTransaction EntityType = "transaction"
	EntityMerchant    EntityType = "merchant"
)

// Phase is a stage in the investigation lifecycle.
// Phases only move forward in the declared order, or into PhaseErrors.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseDataCollection Phase = "data_collection"
	PhaseToolExecution  Phase = "tool_execution"
	PhaseDomainAnalysis Phase = "domain_analysis"
	PhaseSummary        Phase = "summary"
	PhaseComplete       Phase = "complete"
	PhaseErrors         Phase = "errors"
)

// PhaseOrder maps each forward phase to its position in the lifecycle.
// PhaseErrors is reachable from any phase and is deliberately absent.
var PhaseOrder = map[Phase]int{
	PhaseInitialization: 0,
	PhaseDataCollection: 1,
	PhaseToolExecution:  2,
	PhaseDomainAnalysis: 3,
	PhaseSummary:        4,
	PhaseComplete:       5,
}

// Analysis domains known to the routing engine.
const (
	DomainDevice    = "device"
	DomainNetwork   = "network"
	DomainLocation  = "location"
	DomainActivity  = "activity"
	DomainAggregate = "aggregate"
)

// AllDomains lists every analysis domain in priority order.
// The order is the deterministic tie-break for adaptive routing.
var AllDomains = []string{DomainDevice, DomainNetwork, DomainLocation, DomainActivity, DomainAggregate}

// InvestigationConfig is the per-investigation configuration snapshot.
// It is copied into the state at creation so reruns stay reproducible
// even if global defaults change later.
type InvestigationConfig struct {
	LookbackDays  int  `json:"lookbackDays"`
	ToolTargetMin int  `json:"toolTargetMin"`
	ToolTargetMax int  `json:"toolTargetMax"`
	MaxTools      int  `json:"maxTools"`
	Parallel      bool `json:"parallel"`
	Adaptive      bool `json:"adaptive"`
	MaxLoops      int  `json:"maxLoops"`
	MaxDomains    int  `json:"maxDomains"`
}

// PhaseTransition records a single lifecycle move.
type PhaseTransition struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorKind classifies investigation errors per the error taxonomy.
type ErrorKind string

const (
	ErrKindToolFailure          ErrorKind = "tool_failure"
	ErrKindSerializationFailure ErrorKind = "serialization_failure"
	ErrKindStoreUnavailable     ErrorKind = "store_unavailable"
	ErrKindRoutingAnomaly       ErrorKind = "routing_anomaly"
	ErrKindInsufficientData     ErrorKind = "insufficient_data"
)

// InvestigationError is an absorbed, non-fatal error record.
type InvestigationError struct {
	Kind      ErrorKind `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionRecord is one entry in the routing audit trail.
type DecisionRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	DecisionType string         `json:"decisionType"`
	Details      map[string]any `json:"details,omitempty"`
}

// ToolResultKind tags how a tool result payload is represented.
type ToolResultKind string

const (
	// ToolResultRaw means the payload could not be decoded and is kept verbatim.
	ToolResultRaw ToolResultKind = "raw"

	// ToolResultStructured means the payload is a decoded structured value.
	ToolResultStructured ToolResultKind = "structured"
)

// ToolResult is the tagged union for tool output: either a decoded
// structured value or the raw string a best-effort decode fell back to.
type ToolResult struct {
	Kind       ToolResultKind `json:"kind"`
	Raw        string         `json:"raw,omitempty"`
	Structured any            `json:"structured,omitempty"`
}

// ToolBatchData is the designated batch data-collection tool. Applying its
// result marks the investigation's data-collection step as completed.
const ToolBatchData = "batch_data_collection"

// DomainFindings is the merged analysis output for one domain.
type DomainFindings struct {
	Domain             string             `json:"domain"`
	RiskScore          float64            `json:"riskScore"`
	RiskIndicators     []string           `json:"riskIndicators,omitempty"`
	KeyFindings        []string           `json:"keyFindings,omitempty"`
	RecommendedActions []string           `json:"recommendedActions,omitempty"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// Well-known metric names surfaced by domain agents.
const (
	MetricVelocityScore      = "velocity_score"
	MetricAccountAgeDays     = "account_age_days"
	MetricPreviousFraudCount = "previous_fraud_count"
)

// InvestigationState is the record threaded through every orchestrator
// step. All mutation goes through the pure reducers in internal/state;
// accumulators are append/merge-only, never destructively overwritten.
type InvestigationState struct {
	InvestigationID string     `json:"investigationId"`
	EntityID        string     `json:"entityId"`
	EntityType      EntityType `json:"entityType"`
	Priority        string     `json:"priority,omitempty"`

	Phase    Phase               `json:"phase"`
	PhaseLog []PhaseTransition   `json:"phaseLog"`
	Config   InvestigationConfig `json:"config"`

	ToolsUsed        []string                  `json:"toolsUsed"`
	ToolResults      map[string]ToolResult     `json:"toolResults"`
	DomainFindings   map[string]DomainFindings `json:"domainFindings"`
	DomainsCompleted []string                  `json:"domainsCompleted"`
	RiskIndicators   []string                  `json:"riskIndicators"`
	Errors           []InvestigationError      `json:"errors"`

	DataCollectionDone bool    `json:"dataCollectionDone"`
	RiskScore          float64 `json:"riskScore"`
	ConfidenceScore    float64 `json:"confidenceScore"`

	OrchestratorLoops     int `json:"orchestratorLoops"`
	ToolExecutionAttempts int `json:"toolExecutionAttempts"`

	Decisions []DecisionRecord `json:"decisions"`

	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	TotalDurationMS int64      `json:"totalDurationMs"`
}

// Terminal reports whether the investigation has reached a terminal phase.
func (s *InvestigationState) Terminal() bool {
	return s.Phase == PhaseComplete || s.Phase == PhaseErrors
}

// HasDomain reports whether a domain has already completed.
func (s *InvestigationState) HasDomain(domain string) bool {
	for _, d := range s.DomainsCompleted {
		if d == domain {
			return true
		}
	}
	return false
}

// HasTool reports whether a tool has already been recorded.
func (s *InvestigationState) HasTool(name string) bool {
	for _, t := range s.ToolsUsed {
		if t == name {
			return true
		}
	}
	return false
}
