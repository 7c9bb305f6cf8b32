package velocity

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func TestVelocityService(t *testing.T) {
	// Create temp database
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)
	ctx := context.Background()

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.Count(ctx, "user-001", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithTransactions", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			tx := &domain.Transaction{
				ID:        fmt.Sprintf("tx-%d", i),
				EntityID:  "user-burst",
				Amount:    100.0,
				Currency:  "USD",
				Timestamp: time.Now().UTC(),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("failed to save transaction: %v", err)
			}
		}

		count, err := svc.Count(ctx, "user-burst", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 5 {
			t.Errorf("expected count 5, got %d", count)
		}

		count, err = svc.Count(ctx, "unknown-user", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown user, got %d", count)
		}
	})

	t.Run("CachedCountSurvivesNewWrites", func(t *testing.T) {
		count, err := svc.Count(ctx, "user-burst", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 5 {
			t.Fatalf("expected count 5, got %d", count)
		}

		// A write inside the cache TTL is not visible until expiry.
		tx := &domain.Transaction{
			ID:        "tx-late",
			EntityID:  "user-burst",
			Amount:    50,
			Currency:  "USD",
			Timestamp: time.Now().UTC(),
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}

		count, err = svc.Count(ctx, "user-burst", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 5 {
			t.Errorf("expected memoized count 5, got %d", count)
		}

		// A different window is a different cache key and sees the write.
		count, err = svc.Count(ctx, "user-burst", 7200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 6 {
			t.Errorf("expected fresh count 6, got %d", count)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		if _, err := svc.Count(ctx, "", 3600); err == nil {
			t.Error("expected error for empty entityID")
		}
		if _, err := svc.Count(ctx, "user-001", 0); err == nil {
			t.Error("expected error for zero window")
		}
	})

	t.Run("WithoutCache", func(t *testing.T) {
		bare := NewService(repo, nil)
		count, err := bare.Count(ctx, "user-burst", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 6 {
			t.Errorf("expected count 6, got %d", count)
		}
	})
}

func TestGetVelocityGetter(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "velocity-getter-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	getter := NewService(repo, nil).GetVelocityGetter()
	count, err := getter(context.Background(), "user-001", 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
}
