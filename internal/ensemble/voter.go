package ensemble

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MajorityBonus is added to the risk score when more than half of the
// classifiers vote fraud.
const MajorityBonus = 25

// PrimaryModel names the slot used for explanations.
const PrimaryModel = KindRandomForest

// Slot is one named ensemble member. A nil Model marks an unavailable
// classifier that always votes 0.
type Slot struct {
	Name  string
	Model Classifier
	Err   error
}

// Available reports whether the slot holds a model.
func (s Slot) Available() bool { return s.Model != nil }

// Voter holds a fixed ensemble. It is immutable after construction.
type Voter struct {
	slots []Slot
}

// New creates a voter over the given slots, in vote order.
func New(slots ...Slot) *Voter {
	return &Voter{slots: slots}
}

// LoadDir loads <dir>/<name>.json for every name. Files that are missing
// or invalid become unavailable slots; loading never fails as a whole.
func LoadDir(dir string, names ...string) *Voter {
	slots := make([]Slot, 0, len(names))
	for _, name := range names {
		model, err := LoadFile(filepath.Join(dir, name+".json"))
		if err != nil {
			slog.Warn("classifier unavailable", "model", name, "error", err)
			slots = append(slots, Slot{Name: name, Err: err})
			continue
		}
		slog.Info("classifier loaded", "model", name, "type", fmt.Sprintf("%T", model))
		slots = append(slots, Slot{Name: name, Model: model})
	}
	return &Voter{slots: slots}
}

// Slots returns a copy of the ensemble members.
func (v *Voter) Slots() []Slot {
	return slices.Clone(v.slots)
}

// Primary returns the explainable model, when loaded.
func (v *Voter) Primary() (Classifier, bool) {
	for _, s := range v.slots {
		if s.Name == PrimaryModel && s.Available() {
			return s.Model, true
		}
	}
	return nil, false
}

// Ballot is the outcome of one vote.
type Ballot struct {
	Predictions map[string]domain.Prediction
	FraudVotes  int
	Bonus       int
	Status      domain.ComponentStatus
}

// Vote asks every classifier about x. Unavailable or failing classifiers
// vote 0 with no confidence and mark the ballot degraded. The bonus is
// MajorityBonus when fraud votes strictly exceed half the slots.
func (v *Voter) Vote(x []float64) Ballot {
	b := Ballot{
		Predictions: make(map[string]domain.Prediction, len(v.slots)),
		Status:      domain.OK(domain.ComponentEnsemble),
	}

	var failed []string
	for _, s := range v.slots {
		p, err := predict(s, x)
		if err != nil {
			failed = append(failed, s.Name)
			p = domain.Prediction{}
		}
		b.Predictions[s.Name] = p
		if p.Prediction == 1 {
			b.FraudVotes++
		}
	}

	if 2*b.FraudVotes > len(v.slots) {
		b.Bonus = MajorityBonus
	}
	if len(failed) > 0 {
		b.Status = domain.Degraded(domain.ComponentEnsemble, fmt.Sprintf("unavailable: %v", failed))
	}
	return b
}

func predict(s Slot, x []float64) (domain.Prediction, error) {
	if !s.Available() {
		if s.Err != nil {
			return domain.Prediction{}, s.Err
		}
		return domain.Prediction{}, ErrModelUnavailable
	}

	label, err := s.Model.Predict(x)
	if err != nil {
		return domain.Prediction{}, err
	}
	out := domain.Prediction{Prediction: label}

	if pe, ok := s.Model.(ProbabilityEstimator); ok {
		proba, err := pe.PredictProba(x)
		if err == nil && len(proba) > 0 {
			c := Confidence(proba)
			out.Confidence = &c
		}
	}
	return out, nil
}

// Confidence is the highest class probability as a percentage rounded to
// two decimals.
func Confidence(proba []float64) float64 {
	return decimal.NewFromFloat(slices.Max(proba)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}
