package agents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeRepo serves a fixed transaction history and prior-fraud count.
type fakeRepo struct {
	domain.Repository
	txs           []*domain.Transaction
	flaggedCount  int
	flaggedErr    error
	historyCalled int
}

func (f *fakeRepo) GetTransactionsByEntity(ctx context.Context, entityID string, since time.Time) ([]*domain.Transaction, error) {
	f.historyCalled++
	return f.txs, nil
}

func (f *fakeRepo) CountFlaggedAssessments(ctx context.Context, entityID string) (int, error) {
	return f.flaggedCount, f.flaggedErr
}

// fakeScorer returns a canned assessment.
type fakeScorer struct {
	assessment *domain.RiskAssessment
}

func (f *fakeScorer) Score(ctx context.Context, txs []*domain.Transaction, entityID string, entityType domain.EntityType, isMerchant bool) (*domain.RiskAssessment, error) {
	return f.assessment, nil
}

func testRequest() domain.AgentRequest {
	return domain.AgentRequest{
		EntityID:   "entity-001",
		EntityType: domain.EntityUser,
		State: &domain.InvestigationState{
			Config: domain.InvestigationConfig{LookbackDays: 30},
		},
	}
}

func burstTxs(n int, gap time.Duration) []*domain.Transaction {
	base := time.Now().Add(-24 * time.Hour)
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = &domain.Transaction{
			ID:        fmt.Sprintf("tx-%03d", i),
			EntityID:  "entity-001",
			Amount:    100,
			Timestamp: base.Add(time.Duration(i) * gap),
		}
	}
	return txs
}

func TestDeviceAgent(t *testing.T) {
	t.Run("ManyDevices", func(t *testing.T) {
		txs := burstTxs(12, time.Hour)
		for i, tx := range txs {
			tx.DeviceID = fmt.Sprintf("device-%d", i%8)
		}
		agent := NewDeviceAgent(&fakeRepo{txs: txs})

		report, err := agent.Investigate(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("Investigate failed: %v", err)
		}
		if report.Findings.Domain != domain.DomainDevice {
			t.Errorf("wrong domain: %s", report.Findings.Domain)
		}
		if report.Findings.RiskScore < 0.4 {
			t.Errorf("expected elevated risk for 8 devices, got %.2f", report.Findings.RiskScore)
		}
		if len(report.ToolCalls) != 2 {
			t.Errorf("expected 2 tool calls, got %d", len(report.ToolCalls))
		}
		var found bool
		for _, ind := range report.Findings.RiskIndicators {
			if ind == "many_devices" {
				found = true
			}
		}
		if !found {
			t.Error("expected many_devices indicator")
		}
	})

	t.Run("SingleKnownDevice", func(t *testing.T) {
		txs := burstTxs(5, time.Hour)
		for _, tx := range txs {
			tx.DeviceID = "device-1"
		}
		agent := NewDeviceAgent(&fakeRepo{txs: txs})

		report, err := agent.Investigate(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("Investigate failed: %v", err)
		}
		if report.Findings.RiskScore != 0 {
			t.Errorf("expected zero risk for one consistent device, got %.2f", report.Findings.RiskScore)
		}
	})
}

func TestNetworkAgentIPRotation(t *testing.T) {
	txs := burstTxs(12, time.Hour)
	for i, tx := range txs {
		tx.IPAddress = fmt.Sprintf("10.0.0.%d", i)
	}
	agent := NewNetworkAgent(&fakeRepo{txs: txs})

	report, err := agent.Investigate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Investigate failed: %v", err)
	}
	if report.Findings.RiskScore < 0.5 {
		t.Errorf("expected ip rotation risk, got %.2f", report.Findings.RiskScore)
	}
	if report.Findings.Metrics["distinct_ips"] != 12 {
		t.Errorf("expected 12 distinct IPs, got %.0f", report.Findings.Metrics["distinct_ips"])
	}
}

func TestLocationAgentCrossBorder(t *testing.T) {
	txs := burstTxs(10, time.Hour)
	for i, tx := range txs {
		tx.HomeCountry = "US"
		tx.Country = []string{"RO", "NG", "BR", "VN"}[i%4]
		tx.CrossBorder = true
	}
	agent := NewLocationAgent(&fakeRepo{txs: txs})

	report, err := agent.Investigate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Investigate failed: %v", err)
	}
	if report.Findings.RiskScore < 0.8 {
		t.Errorf("expected high location risk, got %.2f", report.Findings.RiskScore)
	}
	if report.Findings.Metrics["distinct_countries"] != 4 {
		t.Errorf("expected 4 countries, got %.0f", report.Findings.Metrics["distinct_countries"])
	}
}

func TestActivityAgentBurst(t *testing.T) {
	// 10 transactions within six minutes
	agent := NewActivityAgent(&fakeRepo{txs: burstTxs(10, 40*time.Second)})

	report, err := agent.Investigate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Investigate failed: %v", err)
	}
	if report.Findings.Metrics[domain.MetricVelocityScore] != 1.0 {
		t.Errorf("expected velocity 1.0 for 10-tx burst, got %.2f",
			report.Findings.Metrics[domain.MetricVelocityScore])
	}
}

func TestActivityAgentQuietHistory(t *testing.T) {
	txs := burstTxs(5, time.Hour)
	for i, tx := range txs {
		// midday, one transaction per day
		tx.Timestamp = time.Date(2026, 5, 1+i, 12, 0, 0, 0, time.UTC)
	}

	agent := NewActivityAgent(&fakeRepo{txs: txs})
	report, err := agent.Investigate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Investigate failed: %v", err)
	}
	if report.Findings.RiskScore != 0 {
		t.Errorf("expected zero risk for spread-out midday history, got %.2f", report.Findings.RiskScore)
	}
}

func TestAggregateAgent(t *testing.T) {
	txs := burstTxs(6, time.Hour)
	repo := &fakeRepo{txs: txs, flaggedCount: 3}
	scorer := &fakeScorer{assessment: &domain.RiskAssessment{
		EntityID:         "entity-001",
		OverallRiskScore: 0.75,
		RiskLevel:        domain.RiskHigh,
		ThresholdUsed:    0.2,
		IsFlagged:        true,
	}}
	agent := NewAggregateAgent(repo, scorer)

	req := testRequest()
	req.State.DomainFindings = map[string]domain.DomainFindings{
		domain.DomainActivity: {
			Domain:  domain.DomainActivity,
			Metrics: map[string]float64{domain.MetricVelocityScore: 0.6},
		},
	}

	report, err := agent.Investigate(context.Background(), req)
	if err != nil {
		t.Fatalf("Investigate failed: %v", err)
	}
	if report.Findings.RiskScore != 0.75 {
		t.Errorf("expected composite score 0.75, got %.2f", report.Findings.RiskScore)
	}
	if report.Findings.Metrics[domain.MetricPreviousFraudCount] != 3 {
		t.Errorf("expected previous_fraud_count 3, got %.0f",
			report.Findings.Metrics[domain.MetricPreviousFraudCount])
	}
	if report.Findings.Metrics[domain.MetricVelocityScore] != 0.6 {
		t.Errorf("expected velocity carried from activity findings, got %.2f",
			report.Findings.Metrics[domain.MetricVelocityScore])
	}

	var prior bool
	for _, ind := range report.Findings.RiskIndicators {
		if ind == "prior_fraud_history" {
			prior = true
		}
	}
	if !prior {
		t.Error("expected prior_fraud_history indicator")
	}
}

func TestRegistryCoversAllDomains(t *testing.T) {
	registry := Registry(&fakeRepo{}, &fakeScorer{assessment: &domain.RiskAssessment{}})

	for _, d := range domain.AllDomains {
		agent, ok := registry[d]
		if !ok {
			t.Errorf("no agent registered for domain %s", d)
			continue
		}
		if agent.Domain() != d {
			t.Errorf("agent registered under %s reports domain %s", d, agent.Domain())
		}
	}
}
