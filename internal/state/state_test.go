package state

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig() domain.InvestigationConfig {
	return domain.InvestigationConfig{
		LookbackDays:  90,
		ToolTargetMin: 10,
		ToolTargetMax: 15,
		MaxTools:      25,
		MaxLoops:      6,
		MaxDomains:    4,
	}
}

func TestNew(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "check device reuse first")

	if s.Phase != domain.PhaseInitialization {
		t.Errorf("expected initialization phase, got %s", s.Phase)
	}
	if len(s.ToolsUsed) != 0 || len(s.DomainsCompleted) != 0 || len(s.Errors) != 0 {
		t.Error("expected empty accumulators")
	}
	if s.Config.MaxLoops != 6 {
		t.Errorf("config snapshot not copied, MaxLoops=%d", s.Config.MaxLoops)
	}
	if s.Priority != "check device reuse first" {
		t.Errorf("priority not carried: %q", s.Priority)
	}
}

func TestApplyToolResultPure(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	s2 := ApplyToolResult(s, "device_fingerprint_scan", map[string]any{"devices": 3})

	if len(s.ToolsUsed) != 0 {
		t.Error("reducer mutated its input")
	}
	if len(s2.ToolsUsed) != 1 || s2.ToolsUsed[0] != "device_fingerprint_scan" {
		t.Errorf("unexpected tools: %v", s2.ToolsUsed)
	}
	if s2.ToolExecutionAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", s2.ToolExecutionAttempts)
	}

	// Repeat invocation: attempts grow, tool set does not.
	s3 := ApplyToolResult(s2, "device_fingerprint_scan", map[string]any{"devices": 4})
	if len(s3.ToolsUsed) != 1 {
		t.Errorf("tools_used must not contain duplicates: %v", s3.ToolsUsed)
	}
	if s3.ToolExecutionAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", s3.ToolExecutionAttempts)
	}
}

func TestBatchDataToolMarksCollection(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	s2 := ApplyToolResult(s, domain.ToolBatchData, `{"transactions": 12}`)
	if !s2.DataCollectionDone {
		t.Error("batch data tool must mark data collection completed")
	}
	tr := s2.ToolResults[domain.ToolBatchData]
	if tr.Kind != domain.ToolResultStructured {
		t.Errorf("expected structured result, got %s", tr.Kind)
	}
}

func TestApplyDomainFindings(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	s2 := ApplyDomainFindings(s, domain.DomainFindings{
		Domain:         domain.DomainDevice,
		RiskScore:      0.6,
		RiskIndicators: []string{"device_reuse"},
	})
	if s2.RiskScore != 0.6 {
		t.Errorf("expected risk 0.6, got %f", s2.RiskScore)
	}

	// Lower score must not lower the ratchet.
	s3 := ApplyDomainFindings(s2, domain.DomainFindings{
		Domain:    domain.DomainNetwork,
		RiskScore: 0.2,
	})
	if s3.RiskScore != 0.6 {
		t.Errorf("risk score regressed to %f", s3.RiskScore)
	}
	if len(s3.DomainsCompleted) != 2 {
		t.Errorf("expected 2 completed domains, got %v", s3.DomainsCompleted)
	}

	// Re-reporting a domain keeps the ordered set duplicate-free.
	s4 := ApplyDomainFindings(s3, domain.DomainFindings{Domain: domain.DomainDevice, RiskScore: 0.1})
	if len(s4.DomainsCompleted) != 2 {
		t.Errorf("domains_completed must not contain duplicates: %v", s4.DomainsCompleted)
	}
}

func TestMonotonicCounters(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	prev := s
	for i := 0; i < 5; i++ {
		next := RecordLoop(prev)
		if next.OrchestratorLoops <= prev.OrchestratorLoops {
			t.Fatalf("loops not strictly increasing: %d -> %d", prev.OrchestratorLoops, next.OrchestratorLoops)
		}
		next = ApplyToolResult(next, "t", "x")
		if next.ToolExecutionAttempts <= prev.ToolExecutionAttempts {
			t.Fatalf("attempts not strictly increasing")
		}
		prev = next
	}
}

func TestTransitionPhase(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	t.Run("Forward", func(t *testing.T) {
		s2, err := TransitionPhase(s, domain.PhaseDataCollection)
		if err != nil {
			t.Fatalf("forward transition failed: %v", err)
		}
		if s2.Phase != domain.PhaseDataCollection {
			t.Errorf("expected data_collection, got %s", s2.Phase)
		}
		if len(s2.PhaseLog) != 1 || s2.PhaseLog[0].From != domain.PhaseInitialization {
			t.Errorf("transition not logged: %+v", s2.PhaseLog)
		}
	})

	t.Run("Backward", func(t *testing.T) {
		s2, _ := TransitionPhase(s, domain.PhaseDomainAnalysis)
		if _, err := TransitionPhase(s2, domain.PhaseDataCollection); err == nil {
			t.Error("expected error on backward transition")
		}
	})

	t.Run("SkipAhead", func(t *testing.T) {
		// Skipping intermediate phases is forward movement and allowed.
		if _, err := TransitionPhase(s, domain.PhaseSummary); err != nil {
			t.Errorf("skip-ahead transition failed: %v", err)
		}
	})

	t.Run("ErrorsFromAnywhere", func(t *testing.T) {
		s2, _ := TransitionPhase(s, domain.PhaseSummary)
		s3, err := TransitionPhase(s2, domain.PhaseErrors)
		if err != nil {
			t.Fatalf("errors transition failed: %v", err)
		}
		if s3.EndTime == nil {
			t.Error("terminal phase must stamp end time")
		}
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		s2, _ := TransitionPhase(s, domain.PhaseComplete)
		if _, err := TransitionPhase(s2, domain.PhaseErrors); err == nil {
			t.Error("expected error transitioning out of terminal phase")
		}
	})
}

func TestIsComplete(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "")

	if IsComplete(s) {
		t.Error("fresh state must not be complete")
	}

	// Scenario: 3 domains, 10 tools, collection done.
	s = ApplyToolResult(s, domain.ToolBatchData, `{}`)
	for _, d := range []string{domain.DomainDevice, domain.DomainNetwork, domain.DomainLocation} {
		s = ApplyDomainFindings(s, domain.DomainFindings{Domain: d, RiskScore: 0.1})
	}
	for i := 0; i < 9; i++ {
		s = ApplyToolResult(s, string(rune('a'+i)), "ok")
	}

	if len(s.ToolsUsed) != 10 {
		t.Fatalf("setup expected 10 tools, got %d", len(s.ToolsUsed))
	}
	if !IsComplete(s) {
		t.Error("expected natural completion with 3 domains, 10 tools, data collected")
	}

	// Completion is independent of the safety-limit path: loops stay low.
	if s.OrchestratorLoops != 0 {
		t.Errorf("loops should be untouched, got %d", s.OrchestratorLoops)
	}

	s2, err := TransitionPhase(s, domain.PhaseComplete)
	if err != nil {
		t.Fatalf("completion transition failed: %v", err)
	}
	if !IsComplete(s2) {
		t.Error("complete phase must satisfy the predicate")
	}
}

func TestIsCompleteHonorsToolTarget(t *testing.T) {
	cfg := testConfig()
	cfg.ToolTargetMin = 2

	s := New("inv-002", "user-42", domain.EntityUser, cfg, "")
	s = ApplyToolResult(s, domain.ToolBatchData, `{}`)
	for _, d := range []string{domain.DomainDevice, domain.DomainNetwork, domain.DomainLocation} {
		s = ApplyDomainFindings(s, domain.DomainFindings{Domain: d, RiskScore: 0.1})
	}

	if IsComplete(s) {
		t.Error("one tool must not satisfy a target of two")
	}

	s = ApplyToolResult(s, "device_fingerprint_scan", "ok")
	if !IsComplete(s) {
		t.Error("expected completion at the configured tool target")
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := New("inv-001", "user-42", domain.EntityUser, testConfig(), "priority note")
	s = ApplyToolResult(s, domain.ToolBatchData, `{"count": 3}`)
	s = ApplyDomainFindings(s, domain.DomainFindings{
		Domain:         domain.DomainDevice,
		RiskScore:      0.4,
		RiskIndicators: []string{"shared_device"},
		Metrics:        map[string]float64{"distinct_devices": 4},
	})
	s = RecordError(s, domain.ErrKindToolFailure, "geo lookup timed out")
	s = RecordLoop(s)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back domain.InvestigationState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	// Compare via a second marshal: timestamps and nested any-values have
	// equivalent JSON forms even when Go types differ after decode.
	data2, err := json.Marshal(&back)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	if !reflect.DeepEqual(data, data2) {
		t.Errorf("round trip diverged:\n%s\n%s", data, data2)
	}
}
