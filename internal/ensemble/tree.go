package ensemble

import (
	"fmt"
	"math"
)

// Tree is a binary decision tree in flat array form. Node 0 is the root;
// a node is a leaf when both children are -1. A sample goes left when
// x[Feature] <= Threshold.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"` // per-class weight at each node
	Cover         []float64   `json:"cover"` // training weight reaching each node
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.ChildrenLeft) }

// IsLeaf reports whether node i has no children.
func (t *Tree) IsLeaf(i int) bool { return t.ChildrenLeft[i] < 0 }

func (t *Tree) validate() error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("%w: empty tree", ErrInvalidModel)
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n ||
		len(t.Value) != n || len(t.Cover) != n {
		return fmt.Errorf("%w: tree arrays differ in length", ErrInvalidModel)
	}

	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if len(t.Value[i]) != 2 {
			return fmt.Errorf("%w: node %d must carry two class values", ErrInvalidModel, i)
		}
		if t.Cover[i] <= 0 || math.IsNaN(t.Cover[i]) {
			return fmt.Errorf("%w: node %d has no cover", ErrInvalidModel, i)
		}
		if l < 0 && r < 0 {
			continue
		}
		// Children always follow their parent, which also rules out cycles.
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("%w: node %d has invalid children", ErrInvalidModel, i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= FeatureCount {
			return fmt.Errorf("%w: node %d splits on feature %d", ErrInvalidModel, i, t.Feature[i])
		}
	}
	return nil
}

// Leaf returns the index of the leaf x falls into.
func (t *Tree) Leaf(x []float64) int {
	i := 0
	for !t.IsLeaf(i) {
		if x[t.Feature[i]] <= t.Threshold[i] {
			i = t.ChildrenLeft[i]
		} else {
			i = t.ChildrenRight[i]
		}
	}
	return i
}

// NodeProba returns the normalized class distribution at node i.
func (t *Tree) NodeProba(i int) []float64 {
	v := t.Value[i]
	total := v[0] + v[1]
	if total <= 0 {
		return []float64{0.5, 0.5}
	}
	return []float64{v[0] / total, v[1] / total}
}

// PositiveRate returns P(1) at node i.
func (t *Tree) PositiveRate(i int) float64 {
	return t.NodeProba(i)[1]
}

func argmax(p []float64) int {
	if p[1] > p[0] {
		return 1
	}
	return 0
}

// DecisionTree is a single-tree classifier.
type DecisionTree struct {
	Tree *Tree
}

// Predict returns the majority class of the leaf.
func (m *DecisionTree) Predict(x []float64) (int, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return argmax(p), nil
}

// PredictProba returns the leaf class distribution.
func (m *DecisionTree) PredictProba(x []float64) ([]float64, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	return m.Tree.NodeProba(m.Tree.Leaf(x)), nil
}

// Trees returns the single tree.
func (m *DecisionTree) Trees() []*Tree { return []*Tree{m.Tree} }

// RandomForest averages the class distributions of its trees.
type RandomForest struct {
	Estimators []*Tree
}

// Predict returns the class with the highest mean probability.
func (m *RandomForest) Predict(x []float64) (int, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return argmax(p), nil
}

// PredictProba returns the mean leaf distribution over every tree.
func (m *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	out := []float64{0, 0}
	for _, t := range m.Estimators {
		p := t.NodeProba(t.Leaf(x))
		out[0] += p[0]
		out[1] += p[1]
	}
	n := float64(len(m.Estimators))
	out[0] /= n
	out[1] /= n
	return out, nil
}

// Trees returns the forest's estimators.
func (m *RandomForest) Trees() []*Tree { return m.Estimators }
