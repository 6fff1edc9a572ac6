// Package scoring fuses indicator and ensemble signals into a risk decision
// and runs the end-to-end scoring pipeline.
package scoring

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Decision is the fused outcome of one transaction.
type Decision struct {
	IndicatorScore int
	Bonus          int
	RiskScore      int
	Status         string
	Blocked        bool
	BlockedBy      string
	BlockedAt      *time.Time
}

// Fuse combines the indicator sum and the ensemble bonus. The score is
// capped at MaxRiskScore and a Fraud decision is blocked by the system.
func Fuse(indicators *rules.Result, ballot ensemble.Ballot, now time.Time) Decision {
	d := Decision{Bonus: ballot.Bonus}
	if indicators != nil {
		d.IndicatorScore = indicators.Score
	}

	d.RiskScore = min(domain.MaxRiskScore, max(0, d.IndicatorScore+d.Bonus))
	d.Status = domain.StatusFor(d.RiskScore)

	if d.Status == domain.StatusFraud {
		at := now
		d.Blocked = true
		d.BlockedBy = domain.SystemActor
		d.BlockedAt = &at
	}
	return d
}

// Apply copies the decision onto a transaction.
func (d Decision) Apply(tx *domain.Transaction) {
	tx.RiskScore = d.RiskScore
	tx.Status = d.Status
	tx.Blocked = d.Blocked
	tx.BlockedBy = d.BlockedBy
	tx.BlockedAt = d.BlockedAt
}

// ShouldAlert reports whether the transaction was auto-blocked.
func ShouldAlert(tx *domain.Transaction) bool {
	return tx.Blocked && tx.BlockedBy == domain.SystemActor
}

// Reasons extracts the human-readable indicator descriptions.
func Reasons(tx *domain.Transaction) []string {
	reasons := make([]string, 0, len(tx.Indicators))
	for _, ind := range tx.Indicators {
		if ind.Description != "" {
			reasons = append(reasons, ind.Description)
		}
	}
	return reasons
}
