package scoring

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubCalc returns a fixed feature result, isolating engine behavior
// from the rule engine.
type stubCalc struct {
	result *FeatureResult
	err    error
}

func (s *stubCalc) Calculate(ctx context.Context, txs []*domain.Transaction) (*FeatureResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	if r.PerItemScores == nil {
		r.PerItemScores = make(map[string]float64)
		for _, tx := range txs {
			r.PerItemScores[tx.ID] = r.RiskScore
		}
	}
	return &r, nil
}

func calcWithScore(score float64) *stubCalc {
	return &stubCalc{result: &FeatureResult{
		RiskScore: score,
		RiskLevel: levelFor(score),
		Features:  map[string]float64{},
	}}
}

func makeTxs(n int, amount func(i int) float64) []*domain.Transaction {
	txs := make([]*domain.Transaction, n)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		txs[i] = &domain.Transaction{
			ID:        fmt.Sprintf("tx-%03d", i),
			EntityID:  "entity-001",
			Amount:    amount(i),
			Currency:  "USD",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return txs
}

func defaultCfg() domain.ScoringConfig {
	return domain.ScoringConfig{BaseThreshold: 0.20, Seed: 42}
}

func TestAdaptiveThresholdBounds(t *testing.T) {
	engine := NewEngine(calcWithScore(0), defaultCfg(), nil)

	counts := []int{0, 1, 2, 3, 4, 5, 9, 10, 50, 500}
	merchants := []string{"", "Lucky Casino Online", "CryptoSwap", "City Utility Board", "GROCERY MART", "Plain Store"}

	for _, n := range counts {
		for _, m := range merchants {
			threshold := engine.adaptiveThreshold(n, m)
			if threshold < thresholdFloor || threshold > thresholdCeiling {
				t.Errorf("threshold %.4f out of [%.2f, %.2f] for count=%d merchant=%q",
					threshold, thresholdFloor, thresholdCeiling, n, m)
			}
		}
	}
}

func TestAdaptiveThresholdVolumeTiers(t *testing.T) {
	engine := NewEngine(calcWithScore(0), defaultCfg(), nil)

	if got := engine.adaptiveThreshold(10, ""); got != 0.20 {
		t.Errorf("high volume: expected 0.20, got %.4f", got)
	}
	if got := engine.adaptiveThreshold(7, ""); math.Abs(got-0.17) > 1e-9 {
		t.Errorf("medium volume: expected 0.17, got %.4f", got)
	}
	if got := engine.adaptiveThreshold(3, ""); math.Abs(got-0.14) > 1e-9 {
		t.Errorf("low volume: expected 0.14, got %.4f", got)
	}
}

func TestMerchantMultiplierSubstringMatch(t *testing.T) {
	engine := NewEngine(calcWithScore(0), defaultCfg(), nil)

	if got := engine.merchantMultiplier("Golden CASINO Resort"); got != 0.60 {
		t.Errorf("expected case-insensitive substring match, got %.2f", got)
	}
	if got := engine.merchantMultiplier("Unknown Shop"); got != 1.0 {
		t.Errorf("expected 1.0 for unknown merchant, got %.2f", got)
	}
	if got := engine.merchantMultiplier(""); got != 1.0 {
		t.Errorf("expected 1.0 for empty merchant, got %.2f", got)
	}
}

func TestMerchantMultiplierOverlapDeterministic(t *testing.T) {
	engine := NewEngine(calcWithScore(0), defaultCfg(), nil)

	// A name hitting both a risky and a benign category must resolve to
	// the lowest multiplier every time.
	for i := 0; i < 20; i++ {
		if got := engine.merchantMultiplier("Casino Utility Services"); got != 0.60 {
			t.Fatalf("overlapping categories: expected 0.60, got %.2f (run %d)", got, i)
		}
		if got := engine.merchantMultiplier("Travel Grocery Depot"); got != 0.90 {
			t.Fatalf("overlapping categories: expected 0.90, got %.2f (run %d)", got, i)
		}
	}
}

func TestBenfordSkipRule(t *testing.T) {
	t.Run("TooFewTransactions", func(t *testing.T) {
		txs := makeTxs(49, func(i int) float64 { return float64(100 + i) })
		if got := benfordScore(txs); got != 0.0 {
			t.Errorf("expected exactly 0.0 below sample minimum, got %.4f", got)
		}
	})

	t.Run("TooFewDistinctAmounts", func(t *testing.T) {
		// 60 transactions over a 9-price catalog
		txs := makeTxs(60, func(i int) float64 { return float64(10 + i%9) })
		if got := benfordScore(txs); got != 0.0 {
			t.Errorf("expected exactly 0.0 for fixed-price catalog, got %.4f", got)
		}
	})
}

func TestBenfordViolationBoost(t *testing.T) {
	// 60 amounts, 40 distinct, every first digit 9: maximal violation.
	txs := makeTxs(60, func(i int) float64 { return float64(900 + i%40) })

	if got := benfordScore(txs); got != 1.0 {
		t.Fatalf("expected violation score 1.0, got %.4f", got)
	}

	engine := NewEngine(calcWithScore(0.4), defaultCfg(), nil)
	assessment, err := engine.Score(context.Background(), txs, "entity-001", domain.EntityMerchant, false)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if math.Abs(assessment.OverallRiskScore-0.7) > 1e-9 {
		t.Errorf("expected 0.4 + 0.3 boost = 0.7, got %.4f", assessment.OverallRiskScore)
	}

	var found bool
	for _, a := range assessment.Anomalies {
		if a.Type == domain.AnomalyStatistical {
			found = true
		}
	}
	if !found {
		t.Error("expected a statistical_anomaly record explaining the boost")
	}
}

func TestBenfordBoostCapped(t *testing.T) {
	txs := makeTxs(60, func(i int) float64 { return float64(900 + i%40) })

	engine := NewEngine(calcWithScore(0.85), defaultCfg(), nil)
	assessment, err := engine.Score(context.Background(), txs, "entity-001", domain.EntityUser, false)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if assessment.OverallRiskScore != 1.0 {
		t.Errorf("expected boost capped at 1.0, got %.4f", assessment.OverallRiskScore)
	}
}

func TestWhitelistGuard(t *testing.T) {
	txs := makeTxs(1, func(i int) float64 { return 9999.0 })

	engine := NewEngine(calcWithScore(0.95), defaultCfg(), nil)
	assessment, err := engine.Score(context.Background(), txs, "entity-001", domain.EntityUser, false)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if assessment.IsFlagged {
		t.Error("single-transaction entity must never be flagged")
	}
	if assessment.OverallRiskScore < 0.9 {
		t.Errorf("score itself should stand, got %.4f", assessment.OverallRiskScore)
	}
}

func TestMLDeterminism(t *testing.T) {
	txs := makeTxs(30, func(i int) float64 { return float64(20 + i*i%400) })

	first, cutoff1 := mlScores(txs, 42)
	second, cutoff2 := mlScores(txs, 42)

	if first == nil || second == nil {
		t.Fatal("expected ML stage to run at 30 samples")
	}
	if cutoff1 != cutoff2 {
		t.Errorf("outlier cutoffs differ: %.6f vs %.6f", cutoff1, cutoff2)
	}
	for id, score := range first {
		if second[id] != score {
			t.Errorf("tx %s: score differs across runs: %.6f vs %.6f", id, score, second[id])
		}
	}
}

func TestMLSkippedBelowMinimum(t *testing.T) {
	txs := makeTxs(19, func(i int) float64 { return float64(50 + i) })
	scores, _ := mlScores(txs, 42)
	if scores != nil {
		t.Error("expected nil ML scores below 20 samples")
	}

	engine := NewEngine(calcWithScore(0.3), defaultCfg(), nil)
	assessment, err := engine.Score(context.Background(), txs, "entity-001", domain.EntityUser, false)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	// With no ML stage the per-item score is the heuristic alone.
	for id, score := range assessment.PerItemScores {
		if math.Abs(score-0.3) > 1e-9 {
			t.Errorf("tx %s: expected pure heuristic 0.3, got %.4f", id, score)
		}
	}
}

func TestPerItemScoreRange(t *testing.T) {
	txs := makeTxs(60, func(i int) float64 { return float64(900 + i%40) })

	engine := NewEngine(calcWithScore(0.9), defaultCfg(), nil)
	assessment, err := engine.Score(context.Background(), txs, "merchant-001", domain.EntityMerchant, true)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for id, score := range assessment.PerItemScores {
		if score < 0 || score > 1 {
			t.Errorf("tx %s: score %.4f out of [0,1]", id, score)
		}
	}
}

func TestRiskLevels(t *testing.T) {
	cases := []struct {
		score float64
		level domain.RiskLevel
	}{
		{0.0, domain.RiskLow},
		{0.29, domain.RiskLow},
		{0.3, domain.RiskMedium},
		{0.49, domain.RiskMedium},
		{0.5, domain.RiskHigh},
		{0.89, domain.RiskHigh},
		{0.9, domain.RiskCritical},
		{1.0, domain.RiskCritical},
	}
	for _, tc := range cases {
		if got := levelFor(tc.score); got != tc.level {
			t.Errorf("score %.2f: expected %s, got %s", tc.score, tc.level, got)
		}
	}
}

func TestFirstDigit(t *testing.T) {
	cases := map[float64]int{
		123.45: 1,
		0.042:  4,
		9:      9,
		0:      0,
		950:    9,
	}
	for amount, want := range cases {
		if got := firstDigit(amount); got != want {
			t.Errorf("firstDigit(%v): expected %d, got %d", amount, want, got)
		}
	}
}
