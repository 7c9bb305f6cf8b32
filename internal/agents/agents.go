// Package agents provides the built-in domain agents. Each agent reads
// the entity's transaction history from the repository, derives metrics
// for its domain, and reports findings plus the tool calls it performed.
// Deployments with external analysis providers replace these through the
// DomainAgent interface.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultLookbackDays = 90

// historyFor loads the entity's transactions within the investigation's
// lookback window.
func historyFor(ctx context.Context, repo domain.Repository, req domain.AgentRequest) ([]*domain.Transaction, error) {
	lookback := defaultLookbackDays
	if req.State != nil && req.State.Config.LookbackDays > 0 {
		lookback = req.State.Config.LookbackDays
	}
	since := time.Now().AddDate(0, 0, -lookback)

	txs, err := repo.GetTransactionsByEntity(ctx, req.EntityID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}
	return txs, nil
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
