// Package velocity provides transaction velocity lookups for the rule
// engine's velocity_count variable.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// cacheTTL bounds how stale a memoized count may be. Velocity feeds
// heuristics, not billing; a few seconds of staleness is acceptable for
// the repository round-trips it saves on bursty entities.
const cacheTTL = 10 * time.Second

// Service calculates transaction velocity for entities.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service. The cache is optional; with
// nil every lookup hits the repository.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Count returns the number of transactions for an entity within a time
// window, memoized in the cache.
func (s *Service) Count(ctx context.Context, entityID string, windowSecs int) (int64, error) {
	if entityID == "" {
		return 0, fmt.Errorf("entityID is required")
	}
	if windowSecs <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	key := fmt.Sprintf("velocity:%s:%d", entityID, windowSecs)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
			if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				return n, nil
			}
		}
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	txs, err := s.repo.GetTransactionsByEntity(ctx, entityID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to get transactions: %w", err)
	}
	count := int64(len(txs))

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), cacheTTL)
	}
	return count, nil
}

// GetVelocityGetter returns the lookup function the rule engine expects.
func (s *Service) GetVelocityGetter() rules.VelocityGetter {
	return s.Count
}
