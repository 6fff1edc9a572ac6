// Package explain attributes tree-model fraud probabilities to input
// features with exact Shapley values.
package explain

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
)

var (
	// ErrNotExplainable is returned for models without tree structure.
	ErrNotExplainable = errors.New("model does not expose tree structure")

	// ErrExplanationFailed is returned when attribution produced no usable value.
	ErrExplanationFailed = errors.New("explanation failed")
)

// maxFeatures bounds the subset enumeration.
const maxFeatures = 16

// Values computes the base value and per-feature Shapley contributions of
// P(class 1) over a tree ensemble. Missing features are integrated out
// along the tree paths, weighted by node cover. The contributions sum to
// f(x) - base, where f is the mean leaf positive rate over the trees.
func Values(trees []*ensemble.Tree, x []float64) (float64, []float64, error) {
	if len(trees) == 0 {
		return 0, nil, fmt.Errorf("%w: no trees", ErrExplanationFailed)
	}
	m := len(x)
	if m == 0 || m > maxFeatures {
		return 0, nil, fmt.Errorf("%w: %d features", ErrExplanationFailed, m)
	}

	// v[S] is the ensemble expectation with the features in S fixed to x.
	subsets := 1 << m
	v := make([]float64, subsets)
	for s := 0; s < subsets; s++ {
		var sum float64
		for _, t := range trees {
			sum += expectation(t, x, uint(s))
		}
		v[s] = sum / float64(len(trees))
	}

	weights := shapleyWeights(m)
	phi := make([]float64, m)
	for i := 0; i < m; i++ {
		bit := 1 << i
		for s := 0; s < subsets; s++ {
			if s&bit != 0 {
				continue
			}
			phi[i] += weights[popcount(s)] * (v[s|bit] - v[s])
		}
	}

	base := v[0]
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return 0, nil, fmt.Errorf("%w: non-finite base value", ErrExplanationFailed)
	}
	for _, p := range phi {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, nil, fmt.Errorf("%w: non-finite contribution", ErrExplanationFailed)
		}
	}
	return base, phi, nil
}

// expectation walks tree t. Splits on features in known follow x; other
// splits average both children by cover.
func expectation(t *ensemble.Tree, x []float64, known uint) float64 {
	var walk func(i int) float64
	walk = func(i int) float64 {
		if t.IsLeaf(i) {
			return t.PositiveRate(i)
		}
		l, r, f := t.ChildrenLeft[i], t.ChildrenRight[i], t.Feature[i]
		if f < len(x) && known&(1<<uint(f)) != 0 {
			if x[f] <= t.Threshold[i] {
				return walk(l)
			}
			return walk(r)
		}
		cl, cr := t.Cover[l], t.Cover[r]
		return (cl*walk(l) + cr*walk(r)) / (cl + cr)
	}
	return walk(0)
}

// shapleyWeights returns |S|!(m-|S|-1)!/m! indexed by |S|.
func shapleyWeights(m int) []float64 {
	fact := make([]float64, m+1)
	fact[0] = 1
	for i := 1; i <= m; i++ {
		fact[i] = fact[i-1] * float64(i)
	}
	w := make([]float64, m)
	for s := 0; s < m; s++ {
		w[s] = fact[s] * fact[m-s-1] / fact[m]
	}
	return w
}

func popcount(s int) int {
	n := 0
	for ; s != 0; s &= s - 1 {
		n++
	}
	return n
}

// Explain builds the stored explanation for the primary model. A nil model
// yields a nil explanation. Models without trees and failed computations
// yield the empty explanation with a degraded status.
func Explain(model ensemble.Classifier, x []float64) (*domain.Explanation, domain.ComponentStatus) {
	if model == nil {
		return nil, domain.Unavailable(domain.ComponentExplanation, "primary model not loaded")
	}

	tm, ok := model.(ensemble.TreeModel)
	if !ok {
		return domain.EmptyExplanation(), domain.Degraded(domain.ComponentExplanation, ErrNotExplainable.Error())
	}
	if len(x) != ensemble.FeatureCount {
		return domain.EmptyExplanation(), domain.Degraded(domain.ComponentExplanation, ensemble.ErrInputWidth.Error())
	}

	base, phi, err := Values(tm.Trees(), x)
	if err != nil {
		return domain.EmptyExplanation(), domain.Degraded(domain.ComponentExplanation, err.Error())
	}

	contributions := make(map[string]float64, len(phi))
	for i, p := range phi {
		contributions[ensemble.FeatureNames[i]] = p
	}
	return &domain.Explanation{BaseValue: &base, Contributions: contributions}, domain.OK(domain.ComponentExplanation)
}
