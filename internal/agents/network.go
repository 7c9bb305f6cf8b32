package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// NetworkAgent analyzes network origin: IP diversity and private/masked
// address usage.
type NetworkAgent struct {
	repo domain.Repository
}

// NewNetworkAgent creates a network analysis agent.
func NewNetworkAgent(repo domain.Repository) *NetworkAgent {
	return &NetworkAgent{repo: repo}
}

func (a *NetworkAgent) Domain() string { return domain.DomainNetwork }

func (a *NetworkAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	txs, err := historyFor(ctx, a.repo, req)
	if err != nil {
		return nil, err
	}

	ips := make(map[string]int)
	masked := 0
	for _, tx := range txs {
		if tx.IPAddress == "" {
			masked++
			continue
		}
		ips[tx.IPAddress]++
	}

	ipDiversity := ratio(len(ips), len(txs))
	maskedRatio := ratio(masked, len(txs))

	// One IP per transaction suggests rotation through proxies.
	score := 0.0
	if len(txs) >= 10 && ipDiversity > 0.8 {
		score += 0.5
	} else if ipDiversity > 0.5 {
		score += 0.25
	}
	score += 0.3 * maskedRatio
	score = clamp01(score)

	findings := domain.DomainFindings{
		Domain:    domain.DomainNetwork,
		RiskScore: score,
		Metrics: map[string]float64{
			"distinct_ips": float64(len(ips)),
			"ip_diversity": ipDiversity,
			"masked_ratio": maskedRatio,
		},
	}
	if score >= 0.5 {
		findings.RiskIndicators = append(findings.RiskIndicators, "ip_rotation")
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("%d distinct IPs over %d transactions", len(ips), len(txs)))
		findings.RecommendedActions = append(findings.RecommendedActions, "review proxy and VPN exposure")
	}

	sample := make([]string, 0, 3)
	for ip := range ips {
		sample = append(sample, ip)
		if len(sample) == 3 {
			break
		}
	}

	return &domain.AgentReport{
		Findings: findings,
		ToolCalls: []domain.ToolCall{
			{Name: "ip_reputation_lookup", Result: map[string]any{
				"distinct_ips": len(ips),
				"sampled":      strings.Join(sample, ","),
			}},
			{Name: "proxy_detection_scan", Result: map[string]any{
				"masked_ratio": maskedRatio,
			}},
		},
	}, nil
}
