// Package ensemble loads pre-trained binary classifiers and fuses their
// votes.
package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// FeatureCount is the input width every classifier must accept:
// amount and hour.
const FeatureCount = 2

// FeatureNames names the input vector positions.
var FeatureNames = [FeatureCount]string{"amount", "time"}

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInvalidModel     = errors.New("invalid model")
	ErrInputWidth       = errors.New("input vector has the wrong width")
)

// Model kinds.
const (
	KindLogisticRegression = "logistic_regression"
	KindDecisionTree       = "decision_tree"
	KindRandomForest       = "random_forest"
	KindLinearSVM          = "support_vector_machine"
)

// Classifier predicts a binary label for an input vector.
type Classifier interface {
	Predict(x []float64) (int, error)
}

// ProbabilityEstimator is implemented by classifiers that can report class
// probabilities, indexed by label.
type ProbabilityEstimator interface {
	PredictProba(x []float64) ([]float64, error)
}

// TreeModel is implemented by classifiers built from decision trees.
type TreeModel interface {
	Trees() []*Tree
}

// modelFile is the on-disk envelope of every model kind.
type modelFile struct {
	Kind      string `json:"kind"`
	NFeatures int    `json:"n_features"`

	// Linear models
	Coef      []float64 `json:"coef,omitempty"`
	Intercept float64   `json:"intercept,omitempty"`

	// Tree models
	Tree  *Tree   `json:"tree,omitempty"`
	Trees []*Tree `json:"trees,omitempty"`

	// SVM extras
	Scaler *Scaler `json:"scaler,omitempty"`
	Platt  *Platt  `json:"platt,omitempty"`
}

// LoadFile reads and validates one model file.
func LoadFile(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return Parse(data)
}

// Parse decodes and validates a model document.
func Parse(data []byte) (Classifier, error) {
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if mf.NFeatures != FeatureCount {
		return nil, fmt.Errorf("%w: expects %d features, got %d", ErrInvalidModel, FeatureCount, mf.NFeatures)
	}

	switch mf.Kind {
	case KindLogisticRegression:
		if err := checkCoef(mf.Coef, mf.Intercept); err != nil {
			return nil, err
		}
		return &LogisticRegression{Coef: mf.Coef, Intercept: mf.Intercept}, nil

	case KindDecisionTree:
		if mf.Tree == nil {
			return nil, fmt.Errorf("%w: decision tree has no tree", ErrInvalidModel)
		}
		if err := mf.Tree.validate(); err != nil {
			return nil, err
		}
		return &DecisionTree{Tree: mf.Tree}, nil

	case KindRandomForest:
		if len(mf.Trees) == 0 {
			return nil, fmt.Errorf("%w: random forest has no trees", ErrInvalidModel)
		}
		for i, t := range mf.Trees {
			if t == nil {
				return nil, fmt.Errorf("%w: tree %d is null", ErrInvalidModel, i)
			}
			if err := t.validate(); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &RandomForest{Estimators: mf.Trees}, nil

	case KindLinearSVM:
		if err := checkCoef(mf.Coef, mf.Intercept); err != nil {
			return nil, err
		}
		svm := &LinearSVM{Coef: mf.Coef, Intercept: mf.Intercept, Scaler: mf.Scaler}
		if err := svm.Scaler.validate(); err != nil {
			return nil, err
		}
		if mf.Platt != nil {
			return &CalibratedSVM{LinearSVM: svm, Platt: *mf.Platt}, nil
		}
		return svm, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidModel, mf.Kind)
	}
}

func checkCoef(coef []float64, intercept float64) error {
	if len(coef) != FeatureCount {
		return fmt.Errorf("%w: expected %d coefficients, got %d", ErrInvalidModel, FeatureCount, len(coef))
	}
	for _, c := range coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite coefficient", ErrInvalidModel)
		}
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return fmt.Errorf("%w: non-finite intercept", ErrInvalidModel)
	}
	return nil
}

func checkInput(x []float64) error {
	if len(x) != FeatureCount {
		return fmt.Errorf("%w: want %d, got %d", ErrInputWidth, FeatureCount, len(x))
	}
	return nil
}

func dot(w, x []float64) float64 {
	var s float64
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// LogisticRegression is a binary logistic model.
type LogisticRegression struct {
	Coef      []float64
	Intercept float64
}

// Predict returns 1 when the linear decision is positive.
func (m *LogisticRegression) Predict(x []float64) (int, error) {
	if err := checkInput(x); err != nil {
		return 0, err
	}
	if dot(m.Coef, x)+m.Intercept > 0 {
		return 1, nil
	}
	return 0, nil
}

// PredictProba returns [P(0), P(1)].
func (m *LogisticRegression) PredictProba(x []float64) ([]float64, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	p := sigmoid(dot(m.Coef, x) + m.Intercept)
	return []float64{1 - p, p}, nil
}

// Scaler standardizes inputs as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) validate() error {
	if s == nil {
		return nil
	}
	if len(s.Mean) != FeatureCount || len(s.Scale) != FeatureCount {
		return fmt.Errorf("%w: scaler width", ErrInvalidModel)
	}
	for _, v := range s.Scale {
		if v == 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: scaler has zero scale", ErrInvalidModel)
		}
	}
	return nil
}

func (s *Scaler) transform(x []float64) []float64 {
	if s == nil {
		return x
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// Platt maps an SVM decision value d to P(1) = 1 / (1 + exp(A*d + B)).
type Platt struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// LinearSVM is a linear support vector classifier with optional input
// standardization. It has no probability interface.
type LinearSVM struct {
	Coef      []float64
	Intercept float64
	Scaler    *Scaler
}

// Decision returns the signed distance to the separating hyperplane.
func (m *LinearSVM) Decision(x []float64) (float64, error) {
	if err := checkInput(x); err != nil {
		return 0, err
	}
	return dot(m.Coef, m.Scaler.transform(x)) + m.Intercept, nil
}

// Predict returns 1 on the positive side of the hyperplane.
func (m *LinearSVM) Predict(x []float64) (int, error) {
	d, err := m.Decision(x)
	if err != nil {
		return 0, err
	}
	if d > 0 {
		return 1, nil
	}
	return 0, nil
}

// CalibratedSVM adds Platt-scaled probabilities to a LinearSVM.
type CalibratedSVM struct {
	*LinearSVM
	Platt Platt
}

// PredictProba returns [P(0), P(1)].
func (m *CalibratedSVM) PredictProba(x []float64) ([]float64, error) {
	d, err := m.Decision(x)
	if err != nil {
		return nil, err
	}
	p := 1 / (1 + math.Exp(m.Platt.A*d+m.Platt.B))
	return []float64{1 - p, p}, nil
}
