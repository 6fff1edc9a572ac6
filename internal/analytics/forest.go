package analytics

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// ForestOptions configures isolation forest fitting.
type ForestOptions struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          uint64
}

// DefaultForestOptions mirrors the usual isolation forest defaults.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.05,
		Seed:          42,
	}
}

// IsolationForest is a fitted, read-only isolation forest.
type IsolationForest struct {
	trees      []*isoNode
	sampleSize int
	dims       int
	offset     float64
}

type isoNode struct {
	feature     int
	threshold   float64
	left, right *isoNode
	size        int // rows reaching a leaf
}

func (n *isoNode) leaf() bool { return n.left == nil }

// FitIsolationForest grows opts.Trees random isolation trees over rows.
// Every row must have the same non-zero length.
func FitIsolationForest(rows [][]float64, opts ForestOptions) (*IsolationForest, error) {
	if len(rows) < 2 {
		return nil, errors.New("at least two rows are required")
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, errors.New("rows have no features")
	}
	for _, r := range rows {
		if len(r) != dims {
			return nil, errors.New("rows have inconsistent widths")
		}
		for _, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("rows contain non-finite values")
			}
		}
	}
	if opts.Trees <= 0 {
		opts.Trees = 100
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 256
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	sampleSize := min(opts.MaxSamples, len(rows))
	depthLimit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &IsolationForest{
		trees:      make([]*isoNode, opts.Trees),
		sampleSize: sampleSize,
		dims:       dims,
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	for t := range f.trees {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		sample := make([][]float64, sampleSize)
		for i := range sample {
			sample[i] = rows[idx[i]]
		}
		f.trees[t] = growTree(rng, sample, 0, depthLimit)
	}

	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = f.ScoreSample(r)
	}
	slices.Sort(scores)
	f.offset = stat.Quantile(opts.Contamination, stat.LinInterp, scores, nil)

	return f, nil
}

func growTree(rng *rand.Rand, rows [][]float64, depth, limit int) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{size: len(rows)}
	}

	dims := len(rows[0])
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	copy(lo, rows[0])
	copy(hi, rows[0])
	for _, r := range rows[1:] {
		for d, v := range r {
			lo[d] = math.Min(lo[d], v)
			hi[d] = math.Max(hi[d], v)
		}
	}

	var splittable []int
	for d := range dims {
		if hi[d] > lo[d] {
			splittable = append(splittable, d)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{size: len(rows)}
	}

	feature := splittable[rng.IntN(len(splittable))]
	threshold := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &isoNode{
		feature:   feature,
		threshold: threshold,
		left:      growTree(rng, left, depth+1, limit),
		right:     growTree(rng, right, depth+1, limit),
	}
}

// ScoreSample returns the negated anomaly score of x: values near -1 are
// anomalous, values near -0.5 or above are normal.
func (f *IsolationForest) ScoreSample(x []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, x)
	}
	mean := total / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.sampleSize))
}

// Decision shifts ScoreSample so the contamination quantile of the
// training rows sits at zero. Higher means more normal.
func (f *IsolationForest) Decision(x []float64) (float64, error) {
	if len(x) != f.dims {
		return 0, errors.New("vector width does not match the fitted forest")
	}
	return f.ScoreSample(x) - f.offset, nil
}

func pathLength(n *isoNode, x []float64) float64 {
	depth := 0.0
	for !n.leaf() {
		if x[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
	}
}
