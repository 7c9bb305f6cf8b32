package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func newRuleCalculator(t *testing.T) *RuleCalculator {
	t.Helper()
	engine, err := rules.NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("failed to load builtin rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewRuleCalculator(engine, 3600)
}

func TestRuleCalculatorEmpty(t *testing.T) {
	calc := newRuleCalculator(t)

	result, err := calc.Calculate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if result.RiskScore != 0 || result.RiskLevel != domain.RiskLow {
		t.Errorf("expected zero risk for empty history, got %.2f/%s", result.RiskScore, result.RiskLevel)
	}
}

func TestRuleCalculatorCleanHistory(t *testing.T) {
	calc := newRuleCalculator(t)

	txs := makeTxs(10, func(i int) float64 { return 25.0 + float64(i) })
	for _, tx := range txs {
		tx.Country = "US"
		tx.HomeCountry = "US"
	}

	result, err := calc.Calculate(context.Background(), txs)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if result.RiskScore != 0 {
		t.Errorf("expected 0 risk for clean daytime domestic history, got %.4f", result.RiskScore)
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %d", len(result.Anomalies))
	}
	if result.Features["tx_count"] != 10 {
		t.Errorf("expected tx_count 10, got %.0f", result.Features["tx_count"])
	}
}

func TestRuleCalculatorRiskyHistory(t *testing.T) {
	calc := newRuleCalculator(t)

	base := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC) // night-time
	txs := make([]*domain.Transaction, 5)
	for i := range txs {
		txs[i] = &domain.Transaction{
			ID:          "tx-risk-" + string(rune('a'+i)),
			EntityID:    "entity-002",
			Amount:      1500.0,
			Currency:    "USD",
			Country:     "RO",
			HomeCountry: "US",
			CrossBorder: true,
			Prepaid:     true,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
	}

	result, err := calc.Calculate(context.Background(), txs)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if result.RiskScore <= 0.5 {
		t.Errorf("expected high heuristic risk, got %.4f", result.RiskScore)
	}
	if len(result.Anomalies) == 0 {
		t.Error("expected heuristic anomaly records for risky transactions")
	}
	for _, a := range result.Anomalies {
		if a.Type != domain.AnomalyHeuristic {
			t.Errorf("unexpected anomaly type %s from the feature calculator", a.Type)
		}
	}
	if result.Features["cross_border_ratio"] != 1.0 {
		t.Errorf("expected cross_border_ratio 1.0, got %.2f", result.Features["cross_border_ratio"])
	}
}

func TestDeviceConcentration(t *testing.T) {
	if got := deviceConcentration(map[string]int{"d1": 8, "d2": 2}, 10); got != 0.8 {
		t.Errorf("expected 0.8, got %.2f", got)
	}
	if got := deviceConcentration(nil, 0); got != 0 {
		t.Errorf("expected 0 for empty set, got %.2f", got)
	}
}
