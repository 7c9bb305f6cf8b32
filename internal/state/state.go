// Package state provides the pure reducers over investigation state.
// Every mutation returns a new state value; callers on the orchestrator
// goroutine fold results through these functions, so concurrent agent
// calls never touch shared state.
package state

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a fresh investigation state in the initialization phase with
// all accumulators empty and the configuration snapshotted.
func New(investigationID, entityID string, entityType domain.EntityType, cfg domain.InvestigationConfig, priority string) *domain.InvestigationState {
	return &domain.InvestigationState{
		InvestigationID: investigationID,
		EntityID:        entityID,
		EntityType:      entityType,
		Priority:        priority,
		Phase:           domain.PhaseInitialization,
		Config:          cfg,
		ToolResults:     make(map[string]domain.ToolResult),
		DomainFindings:  make(map[string]domain.DomainFindings),
		StartTime:       time.Now().UTC(),
	}
}

// clone returns a deep copy of the state. Slices and maps are copied so a
// reducer's output never aliases its input.
func clone(s *domain.InvestigationState) *domain.InvestigationState {
	c := *s

	c.PhaseLog = append([]domain.PhaseTransition(nil), s.PhaseLog...)
	c.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	c.DomainsCompleted = append([]string(nil), s.DomainsCompleted...)
	c.RiskIndicators = append([]string(nil), s.RiskIndicators...)
	c.Errors = append([]domain.InvestigationError(nil), s.Errors...)
	c.Decisions = append([]domain.DecisionRecord(nil), s.Decisions...)

	c.ToolResults = make(map[string]domain.ToolResult, len(s.ToolResults))
	for k, v := range s.ToolResults {
		c.ToolResults[k] = v
	}
	c.DomainFindings = make(map[string]domain.DomainFindings, len(s.DomainFindings))
	for k, v := range s.DomainFindings {
		c.DomainFindings[k] = v
	}

	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

// ApplyToolResult appends a tool invocation and its normalized result.
// The designated batch data tool additionally marks data collection as
// completed; its result goes through the decode chain of Normalize.
// ToolExecutionAttempts increases on every call, including repeats.
func ApplyToolResult(s *domain.InvestigationState, toolName string, result any) *domain.InvestigationState {
	c := clone(s)
	c.ToolExecutionAttempts++

	if !c.HasTool(toolName) {
		c.ToolsUsed = append(c.ToolsUsed, toolName)
	}

	tr := Normalize(result)
	if toolName == domain.ToolBatchData {
		c.DataCollectionDone = true
	}
	c.ToolResults[toolName] = tr

	return c
}

// ApplyDomainFindings merges a domain's findings: marks the domain
// completed, extends the risk indicator list, and ratchets the risk score
// via max(current, findings score). The risk score never decreases.
func ApplyDomainFindings(s *domain.InvestigationState, f domain.DomainFindings) *domain.InvestigationState {
	c := clone(s)

	c.DomainFindings[f.Domain] = f
	if !c.HasDomain(f.Domain) {
		c.DomainsCompleted = append(c.DomainsCompleted, f.Domain)
	}
	c.RiskIndicators = append(c.RiskIndicators, f.RiskIndicators...)

	if f.RiskScore > c.RiskScore {
		c.RiskScore = f.RiskScore
	}
	if c.RiskScore > 1.0 {
		c.RiskScore = 1.0
	}

	return c
}

// RecordLoop increments the orchestrator loop safety counter.
func RecordLoop(s *domain.InvestigationState) *domain.InvestigationState {
	c := clone(s)
	c.OrchestratorLoops++
	return c
}

// RecordDecision appends a routing decision to the audit trail and adopts
// the decision's confidence as the state's confidence score.
func RecordDecision(s *domain.InvestigationState, d domain.RoutingDecision) *domain.InvestigationState {
	c := clone(s)
	c.Decisions = append(c.Decisions, domain.DecisionRecord{
		Timestamp:    time.Now().UTC(),
		DecisionType: string(d.Action),
		Details: map[string]any{
			"tier":       string(d.Tier),
			"composite":  d.Composite,
			"confidence": d.Confidence,
			"nextDomain": d.NextDomain,
			"parallel":   d.Parallel,
			"indicators": d.Indicators,
			"reason":     d.Reason,
		},
	})
	c.ConfidenceScore = d.Confidence
	return c
}

// ApplyAssessment folds the final composite verdict into the state,
// ratcheting the risk score the same way domain findings do.
func ApplyAssessment(s *domain.InvestigationState, a *domain.RiskAssessment) *domain.InvestigationState {
	c := clone(s)
	if a.OverallRiskScore > c.RiskScore {
		c.RiskScore = a.OverallRiskScore
	}
	if c.RiskScore > 1.0 {
		c.RiskScore = 1.0
	}
	return c
}

// CapConfidence lowers the confidence score to max when it exceeds it.
// Forced terminations use this so a truncated investigation never reports
// high certainty.
func CapConfidence(s *domain.InvestigationState, max float64) *domain.InvestigationState {
	if s.ConfidenceScore <= max {
		return s
	}
	c := clone(s)
	c.ConfidenceScore = max
	return c
}

// RecordError absorbs a non-fatal error into the state.
func RecordError(s *domain.InvestigationState, kind domain.ErrorKind, detail string) *domain.InvestigationState {
	c := clone(s)
	c.Errors = append(c.Errors, domain.InvestigationError{
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	return c
}

// TransitionPhase moves the investigation to a new phase. Transitions are
// forward-only in the declared order; PhaseErrors is reachable from any
// non-terminal phase. Terminal transitions stamp the end time.
func TransitionPhase(s *domain.InvestigationState, to domain.Phase) (*domain.InvestigationState, error) {
	if s.Terminal() {
		return nil, fmt.Errorf("investigation %s already terminal in phase %s", s.InvestigationID, s.Phase)
	}

	if to != domain.PhaseErrors {
		fromOrd, ok := domain.PhaseOrder[s.Phase]
		toOrd, ok2 := domain.PhaseOrder[to]
		if !ok || !ok2 {
			return nil, fmt.Errorf("unknown phase transition %s -> %s", s.Phase, to)
		}
		if toOrd <= fromOrd {
			return nil, fmt.Errorf("phase may not move backward: %s -> %s", s.Phase, to)
		}
	}

	now := time.Now().UTC()
	c := clone(s)
	c.PhaseLog = append(c.PhaseLog, domain.PhaseTransition{From: c.Phase, To: to, Timestamp: now})
	c.Phase = to

	if to == domain.PhaseComplete || to == domain.PhaseErrors {
		c.EndTime = &now
		c.TotalDurationMS = now.Sub(c.StartTime).Milliseconds()
	}

	return c, nil
}

// Completion thresholds for the natural-completion path.
const (
	minDomainsForCompletion = 3
	minToolsForCompletion   = 10
)

// IsComplete is the natural-completion predicate: the investigation has
// gathered enough content to conclude. The routing engine's safety limits
// can force termination before this holds; the two paths intentionally
// diverge, bounding worst-case cost.
func IsComplete(s *domain.InvestigationState) bool {
	if s.Phase == domain.PhaseComplete {
		return true
	}
	minTools := s.Config.ToolTargetMin
	if minTools <= 0 {
		minTools = minToolsForCompletion
	}
	return s.DataCollectionDone &&
		len(s.DomainsCompleted) >= minDomainsForCompletion &&
		len(s.ToolsUsed) >= minTools
}
