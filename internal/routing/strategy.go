package routing

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Strategy is the investigation plan a complexity tier selects: which
// domains are in scope, whether agents fan out in parallel, and the
// per-call timeout.
type Strategy struct {
	Name     string
	Domains  []string
	Parallel bool
	Timeout  time.Duration
}

// Tier strategies. Domain lists are ordered: list position is the
// deterministic tie-break for sequential routing.
var strategies = map[domain.ComplexityTier]Strategy{
	domain.TierLow: {
		Name:    "fast-track",
		Domains: []string{domain.DomainDevice, domain.DomainNetwork},
		Timeout: 30 * time.Second,
	},
	domain.TierMedium: {
		Name:    "standard",
		Domains: []string{domain.DomainDevice, domain.DomainNetwork, domain.DomainLocation},
		Timeout: 60 * time.Second,
	},
	domain.TierHigh: {
		Name:     "comprehensive",
		Domains:  []string{domain.DomainDevice, domain.DomainNetwork, domain.DomainLocation, domain.DomainActivity},
		Parallel: true,
		Timeout:  120 * time.Second,
	},
	domain.TierCritical: {
		Name:     "full",
		Domains:  domain.AllDomains,
		Parallel: true,
		Timeout:  300 * time.Second,
	},
}

// strategyFor returns the strategy for a tier, defaulting to fast-track.
func strategyFor(tier domain.ComplexityTier) Strategy {
	if s, ok := strategies[tier]; ok {
		return s
	}
	return strategies[domain.TierLow]
}
