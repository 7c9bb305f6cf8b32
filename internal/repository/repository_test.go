package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:           "tx-001",
			EntityID:     "entity-001",
			Amount:       1000.00,
			Currency:     "USD",
			MerchantName: "Corner Store",
			DeviceID:     "device-1",
			IPAddress:    "10.0.0.1",
			Country:      "US",
			HomeCountry:  "US",
			CrossBorder:  false,
			Prepaid:      true,
			Timestamp:    time.Now().UTC(),
			CreatedAt:    time.Now().UTC(),
			Metadata:     map[string]any{"source": "api"},
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if !retrieved.Prepaid {
			t.Error("expected prepaid flag to survive the round trip")
		}
		if retrieved.Metadata["source"] != "api" {
			t.Errorf("expected metadata to survive the round trip, got %v", retrieved.Metadata)
		}
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tx-missing")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetTransactionsByEntity", func(t *testing.T) {
		now := time.Now().UTC()
		old := &domain.Transaction{
			ID: "tx-old", EntityID: "entity-002", Amount: 10, Currency: "USD",
			Timestamp: now.AddDate(0, 0, -120), CreatedAt: now,
		}
		recent := &domain.Transaction{
			ID: "tx-recent", EntityID: "entity-002", Amount: 20, Currency: "USD",
			Timestamp: now.AddDate(0, 0, -1), CreatedAt: now,
		}
		for _, tx := range []*domain.Transaction{old, recent} {
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		txs, err := repo.GetTransactionsByEntity(ctx, "entity-002", now.AddDate(0, 0, -90))
		if err != nil {
			t.Fatalf("GetTransactionsByEntity failed: %v", err)
		}
		if len(txs) != 1 {
			t.Fatalf("expected 1 transaction inside the window, got %d", len(txs))
		}
		if txs[0].ID != "tx-recent" {
			t.Errorf("expected tx-recent, got %s", txs[0].ID)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.RiskAssessment{
			EntityID:         "entity-003",
			EntityType:       domain.EntityUser,
			OverallRiskScore: 0.82,
			RiskLevel:        domain.RiskHigh,
			PerItemScores:    map[string]float64{"tx-1": 0.9},
			Anomalies: []domain.Anomaly{
				{Type: domain.AnomalyStatistical, Description: "digit distribution", Score: 1.0},
			},
			ThresholdUsed: 0.2,
			IsFlagged:     true,
			SampleSize:    60,
			GeneratedAt:   time.Now().UTC(),
		}

		if err := repo.SaveAssessment(ctx, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, "entity-003")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if retrieved.OverallRiskScore != 0.82 {
			t.Errorf("expected score 0.82, got %.2f", retrieved.OverallRiskScore)
		}
		if !retrieved.IsFlagged {
			t.Error("expected flagged assessment")
		}
		if len(retrieved.Anomalies) != 1 || retrieved.Anomalies[0].Type != domain.AnomalyStatistical {
			t.Errorf("expected anomalies to survive the round trip, got %+v", retrieved.Anomalies)
		}
	})

	t.Run("GetAssessmentReturnsLatest", func(t *testing.T) {
		base := time.Now().UTC()
		for i, score := range []float64{0.1, 0.5, 0.9} {
			a := &domain.RiskAssessment{
				EntityID:         "entity-004",
				EntityType:       domain.EntityUser,
				OverallRiskScore: score,
				RiskLevel:        domain.RiskLow,
				ThresholdUsed:    0.2,
				GeneratedAt:      base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.SaveAssessment(ctx, a); err != nil {
				t.Fatalf("SaveAssessment failed: %v", err)
			}
		}

		retrieved, err := repo.GetAssessment(ctx, "entity-004")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if retrieved.OverallRiskScore != 0.9 {
			t.Errorf("expected most recent assessment (0.9), got %.2f", retrieved.OverallRiskScore)
		}
	})

	t.Run("CountFlaggedAssessments", func(t *testing.T) {
		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			a := &domain.RiskAssessment{
				EntityID:         "entity-005",
				EntityType:       domain.EntityUser,
				OverallRiskScore: 0.8,
				RiskLevel:        domain.RiskHigh,
				ThresholdUsed:    0.2,
				IsFlagged:        i < 2, // two flagged, one clean
				GeneratedAt:      base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.SaveAssessment(ctx, a); err != nil {
				t.Fatalf("SaveAssessment failed: %v", err)
			}
		}

		count, err := repo.CountFlaggedAssessments(ctx, "entity-005")
		if err != nil {
			t.Fatalf("CountFlaggedAssessments failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 flagged assessments, got %d", count)
		}
	})

	t.Run("SaveAndListRuleConfigs", func(t *testing.T) {
		half := 0.5
		rule := &domain.RuleConfig{
			ID:         "rule-test",
			Name:       "Test Rule",
			Version:    "1.0",
			Expression: "amount > 100.0",
			Bands: []domain.RuleBand{
				{LowerLimit: &half, SubRuleRef: domain.RuleOutcomeFail, Reason: "too big"},
			},
			Weight:  1.0,
			Enabled: true,
		}
		disabled := &domain.RuleConfig{
			ID: "rule-off", Name: "Disabled Rule", Version: "1.0",
			Expression: "amount > 0.0", Weight: 1.0, Enabled: false,
		}

		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		if err := repo.SaveRuleConfig(ctx, disabled); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		configs, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Fatalf("expected only enabled rules, got %d", len(configs))
		}
		if configs[0].ID != "rule-test" {
			t.Errorf("expected rule-test, got %s", configs[0].ID)
		}
		if len(configs[0].Bands) != 1 || configs[0].Bands[0].SubRuleRef != domain.RuleOutcomeFail {
			t.Errorf("expected bands to survive the round trip, got %+v", configs[0].Bands)
		}
	})

	t.Run("UpsertRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID: "rule-upsert", Name: "First", Version: "1.0",
			Expression: "amount > 1.0", Weight: 1.0, Enabled: true,
		}
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		rule.Name = "Second"
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		configs, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		for _, cfg := range configs {
			if cfg.ID == "rule-upsert" && cfg.Name != "Second" {
				t.Errorf("expected upserted name Second, got %s", cfg.Name)
			}
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}
