package domain

import (
	"time"
)

// Transaction is one historical transaction attributed to an entity under
// investigation. It is the unit fed to the risk scoring engine and the
// raw material domain agents derive their metrics from.
type Transaction struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Counterparty
	MerchantName string `json:"merchantName,omitempty"`

	// Channel fingerprint
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`

	// Geography
	Country     string `json:"country,omitempty"`
	HomeCountry string `json:"homeCountry,omitempty"`
	CrossBorder bool   `json:"crossBorder"`

	// Instrument
	Prepaid bool `json:"prepaid"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DistinctAmounts returns the number of distinct amount values in a set.
// Used by the digit-distribution gate, which only runs on varied catalogs.
func DistinctAmounts(txs []*Transaction) int {
	seen := make(map[float64]struct{}, len(txs))
	for _, tx := range txs {
		seen[tx.Amount] = struct{}{}
	}
	return len(seen)
}

// PrimaryMerchant returns the most frequent merchant name in a set, or ""
// when no transaction carries one.
func PrimaryMerchant(txs []*Transaction) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, tx := range txs {
		if tx.MerchantName == "" {
			continue
		}
		counts[tx.MerchantName]++
		if counts[tx.MerchantName] > bestCount {
			best, bestCount = tx.MerchantName, counts[tx.MerchantName]
		}
	}
	return best
}
