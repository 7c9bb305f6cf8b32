package agents

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DeviceAgent analyzes device fingerprints: how many distinct devices the
// entity transacts from and whether activity concentrates on one of them.
type DeviceAgent struct {
	repo domain.Repository
}

// NewDeviceAgent creates a device analysis agent.
func NewDeviceAgent(repo domain.Repository) *DeviceAgent {
	return &DeviceAgent{repo: repo}
}

func (a *DeviceAgent) Domain() string { return domain.DomainDevice }

// Investigate derives device risk from fingerprint diversity and
// concentration across the lookback window.
func (a *DeviceAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	txs, err := historyFor(ctx, a.repo, req)
	if err != nil {
		return nil, err
	}

	devices := make(map[string]int)
	missing := 0
	for _, tx := range txs {
		if tx.DeviceID == "" {
			missing++
			continue
		}
		devices[tx.DeviceID]++
	}

	top := 0
	for _, c := range devices {
		if c > top {
			top = c
		}
	}
	concentration := ratio(top, len(txs))
	missingRatio := ratio(missing, len(txs))

	// Many devices on one account and anonymous (fingerprint-less)
	// traffic both raise device risk.
	score := 0.0
	if len(devices) > 5 {
		score += 0.4
	} else if len(devices) > 2 {
		score += 0.2
	}
	score += 0.3 * missingRatio
	if concentration > 0.9 && len(txs) >= 20 {
		score += 0.2 // scripted single-fingerprint activity
	}
	score = clamp01(score)

	findings := domain.DomainFindings{
		Domain:    domain.DomainDevice,
		RiskScore: score,
		Metrics: map[string]float64{
			"distinct_devices":     float64(len(devices)),
			"device_concentration": concentration,
			"missing_fingerprints": missingRatio,
		},
	}
	if len(devices) > 5 {
		findings.RiskIndicators = append(findings.RiskIndicators, "many_devices")
		findings.KeyFindings = append(findings.KeyFindings,
			fmt.Sprintf("%d distinct devices in the lookback window", len(devices)))
		findings.RecommendedActions = append(findings.RecommendedActions, "request device re-verification")
	}
	if missingRatio > 0.5 {
		findings.RiskIndicators = append(findings.RiskIndicators, "missing_device_fingerprints")
	}

	return &domain.AgentReport{
		Findings: findings,
		ToolCalls: []domain.ToolCall{
			{Name: "device_fingerprint_lookup", Result: map[string]any{
				"distinct_devices": len(devices),
				"sample_size":      len(txs),
			}},
			{Name: "device_concentration_check", Result: map[string]any{
				"concentration": concentration,
			}},
		},
	}, nil
}
