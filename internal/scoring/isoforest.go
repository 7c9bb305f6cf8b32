package scoring

import (
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Isolation forest parameters. Sample sizes below minMLSamples skip the
// ML stage entirely.
const (
	minMLSamples  = 20
	contamination = 0.05
	numTrees      = 100
	maxSubsample  = 256
)

// isoNode is one node of an isolation tree.
type isoNode struct {
	left, right *isoNode
	splitAttr   int
	splitValue  float64
	size        int
}

// isoForest is a seeded isolation forest over small numeric feature
// vectors. All randomness flows from one rand.Rand, so identical input
// and seed produce identical scores.
type isoForest struct {
	trees     []*isoNode
	subsample int
}

// txFeatures projects a transaction onto the model's feature vector:
// amount, hour of day, weekday, prepaid flag, cross-border flag.
func txFeatures(tx *domain.Transaction) []float64 {
	f := []float64{
		tx.Amount,
		float64(tx.Timestamp.UTC().Hour()),
		float64(tx.Timestamp.UTC().Weekday()),
		0,
		0,
	}
	if tx.Prepaid {
		f[3] = 1
	}
	if tx.CrossBorder {
		f[4] = 1
	}
	return f
}

// fitForest trains an isolation forest on the given feature matrix.
func fitForest(data [][]float64, rng *rand.Rand) *isoForest {
	subsample := maxSubsample
	if len(data) < subsample {
		subsample = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(subsample))))

	f := &isoForest{subsample: subsample}
	for t := 0; t < numTrees; t++ {
		sample := make([][]float64, subsample)
		for i := range sample {
			sample[i] = data[rng.Intn(len(data))]
		}
		f.trees = append(f.trees, buildTree(sample, 0, heightLimit, rng))
	}
	return f
}

func buildTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *isoNode {
	if len(data) <= 1 || depth >= heightLimit {
		return &isoNode{size: len(data)}
	}

	attr := rng.Intn(len(data[0]))
	min, max := data[0][attr], data[0][attr]
	for _, row := range data[1:] {
		if row[attr] < min {
			min = row[attr]
		}
		if row[attr] > max {
			max = row[attr]
		}
	}
	if min == max {
		return &isoNode{size: len(data)}
	}

	split := min + rng.Float64()*(max-min)
	var left, right [][]float64
	for _, row := range data {
		if row[attr] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		splitAttr:  attr,
		splitValue: split,
		left:       buildTree(left, depth+1, heightLimit, rng),
		right:      buildTree(right, depth+1, heightLimit, rng),
	}
}

// pathLength follows a point down one tree, adding the average-path
// adjustment c(n) at external nodes holding more than one point.
func pathLength(node *isoNode, point []float64, depth float64) float64 {
	if node.left == nil {
		return depth + avgPathLength(node.size)
	}
	if point[node.splitAttr] < node.splitValue {
		return pathLength(node.left, point, depth+1)
	}
	return pathLength(node.right, point, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

// score returns the anomaly score in (0,1): 2^(-E[h(x)] / c(subsample)).
func (f *isoForest) score(point []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, point, 0)
	}
	mean := total / float64(len(f.trees))
	c := avgPathLength(f.subsample)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}

// mlScores returns a per-transaction anomaly score map plus the score
// threshold above which a transaction falls into the expected-outlier
// fraction. Returns nil below the minimum sample size.
func mlScores(txs []*domain.Transaction, seed int64) (map[string]float64, float64) {
	if len(txs) < minMLSamples {
		return nil, 0
	}

	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, len(txs))
	for i, tx := range txs {
		data[i] = txFeatures(tx)
	}

	forest := fitForest(data, rng)

	scores := make(map[string]float64, len(txs))
	ordered := make([]float64, 0, len(txs))
	for i, tx := range txs {
		s := forest.score(data[i])
		scores[tx.ID] = s
		ordered = append(ordered, s)
	}

	// Outlier cutoff at the (1 - contamination) quantile.
	sort.Float64s(ordered)
	idx := int(math.Ceil(float64(len(ordered))*(1-contamination))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ordered) {
		idx = len(ordered) - 1
	}
	return scores, ordered[idx]
}
