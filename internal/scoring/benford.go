package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Digit-distribution gate. Fixed-price catalogs legitimately violate the
// natural-digit law, so the test only runs on large, varied samples.
const (
	minBenfordSamples   = 50
	minDistinctAmounts  = 10
	benfordChiSquareLow = 15.0
	benfordChiSquareHi  = 25.0
)

// benfordScore runs a first-significant-digit conformance test over
// transaction amounts and returns a violation score in [0,1]:
// chi-square below 15 maps to 0, above 25 to 1, linear in between.
// Samples below the size or variety gates score exactly 0.
func benfordScore(txs []*domain.Transaction) float64 {
	if len(txs) < minBenfordSamples || domain.DistinctAmounts(txs) < minDistinctAmounts {
		return 0
	}

	var counts [10]int
	total := 0
	for _, tx := range txs {
		d := firstDigit(tx.Amount)
		if d == 0 {
			continue
		}
		counts[d]++
		total++
	}
	if total == 0 {
		return 0
	}

	var chiSquare float64
	for d := 1; d <= 9; d++ {
		expected := float64(total) * math.Log10(1+1/float64(d))
		diff := float64(counts[d]) - expected
		chiSquare += diff * diff / expected
	}

	switch {
	case chiSquare < benfordChiSquareLow:
		return 0
	case chiSquare > benfordChiSquareHi:
		return 1
	default:
		return (chiSquare - benfordChiSquareLow) / (benfordChiSquareHi - benfordChiSquareLow)
	}
}

// firstDigit extracts the first significant digit of an amount, or 0 for
// non-positive values.
func firstDigit(amount float64) int {
	amount = math.Abs(amount)
	if amount == 0 {
		return 0
	}
	for amount >= 10 {
		amount /= 10
	}
	for amount < 1 {
		amount *= 10
	}
	return int(amount)
}
