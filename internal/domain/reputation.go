package domain

import "time"

// VPAReputation is the crowd reputation of a tokenized identifier.
type VPAReputation struct {
	Token           string    `json:"vpa_hash"`
	FlagCount       int       `json:"flag_count"`
	ReputationScore float64   `json:"reputation_score"`
	Reasons         []string  `json:"reasons"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Source is "store" for persisted records and "derived" for the
	// deterministic fallback. Not persisted.
	Source string `json:"source,omitempty"`

	// RiskScore is set on derived records only.
	RiskScore *float64 `json:"risk_score,omitempty"`
}

// Reputation sources.
const (
	ReputationStored  = "store"
	ReputationDerived = "derived"
)

// AuditEntry is an immutable audit log record.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details"`
}

// Audit actions.
const (
	AuditAutoBlock        = "auto_block"
	AuditOperatorBlock    = "operator_block"
	AuditClear            = "clear_transactions"
	AuditAnalyticsRefresh = "analytics_refresh"
)
