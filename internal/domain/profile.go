package domain

import "time"

// UserProfile is the denormalized per-identifier history used for quick
// lookups. It is cleared by bulk clear but never deleted.
type UserProfile struct {
	Identifier   string         `json:"identifier"`
	Transactions []ProfileEntry `json:"transactions"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
}

// ProfileEntry is the compact copy of a scored transaction kept in a profile.
type ProfileEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Merchant  string    `json:"merchant"`
	Location  string    `json:"location"`
	RiskScore int       `json:"risk_score"`
	Status    string    `json:"status"`
}

// Merchants returns the set of merchants seen in the profile history.
func (p *UserProfile) Merchants() map[string]struct{} {
	set := make(map[string]struct{})
	if p == nil {
		return set
	}
	for _, e := range p.Transactions {
		set[e.Merchant] = struct{}{}
	}
	return set
}

// HasHistory reports whether the profile holds any prior transaction.
func (p *UserProfile) HasHistory() bool {
	return p != nil && len(p.Transactions) > 0
}

// EntryFor builds the profile entry for a scored transaction.
func EntryFor(tx *Transaction) ProfileEntry {
	return ProfileEntry{
		ID:        tx.ID,
		Timestamp: tx.Timestamp,
		Amount:    tx.Amount,
		Merchant:  tx.Merchant,
		Location:  tx.Location,
		RiskScore: tx.RiskScore,
		Status:    tx.Status,
	}
}
