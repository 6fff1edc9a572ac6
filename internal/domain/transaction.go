package domain

import (
	"time"
)

// Transaction statuses.
const (
	StatusLegitimate = "Legitimate"
	StatusFraud      = "Fraud"
)

const (
	// FraudThreshold is the risk score at or above which a transaction is Fraud.
	FraudThreshold = 50

	// MaxRiskScore caps the fused risk score.
	MaxRiskScore = 100

	// SystemActor is recorded in blocked_by when the scorer blocks automatically.
	SystemActor = "system"

	// DefaultMerchant is used when a request names no merchant.
	DefaultMerchant = "Unknown Merchant"
)

// Transaction is a scored payment. It is written once per incoming request;
// afterwards only the block fields may change, and only once.
type Transaction struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Identifier      string    `json:"identifier"`
	IdentifierToken string    `json:"identifier_token"`

	Amount   float64 `json:"amount"`
	Merchant string  `json:"merchant"`
	Category string  `json:"category"`
	Location string  `json:"location"`

	// Enrichment computed at scoring time (see Feature* keys)
	Features   map[string]any `json:"features"`
	Indicators []Indicator    `json:"indicators"`

	RiskScore int    `json:"risk_score"`
	Status    string `json:"status"`

	Blocked   bool       `json:"blocked"`
	BlockedBy string     `json:"blocked_by,omitempty"`
	BlockedAt *time.Time `json:"blocked_timestamp,omitempty"`

	Explanation *Explanation `json:"explanation"`
}

// Indicator is a named, weighted, human-readable fraud signal.
type Indicator struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

// Explanation attributes the primary model's output to its input features.
// BaseValue is nil when attribution could not be computed.
type Explanation struct {
	BaseValue     *float64           `json:"base_value"`
	Contributions map[string]float64 `json:"contributions"`
}

// EmptyExplanation is the neutral explanation returned on attribution failure.
func EmptyExplanation() *Explanation {
	return &Explanation{Contributions: map[string]float64{}}
}

// Prediction is a single classifier's vote on a transaction.
type Prediction struct {
	Prediction int      `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

// StatusFor maps a risk score to a transaction status.
func StatusFor(riskScore int) string {
	if riskScore >= FraudThreshold {
		return StatusFraud
	}
	return StatusLegitimate
}

// Feature map keys.
const (
	FeatureHour             = "hour"
	FeatureCount1h          = "count_1h"
	FeatureCount6h          = "count_6h"
	FeatureCount24h         = "count_24h"
	FeatureCount7d          = "count_7d"
	FeatureLastLocation     = "last_location"
	FeatureMinutesSinceLast = "minutes_since_last"
	FeatureDeviceID         = "device_id"
	FeatureAccountDegree    = "graph_account_degree"
	FeatureMerchantDegree   = "graph_merchant_degree"
	FeatureAnomalyScore     = "anomaly_score"
	FeatureTypingSpeed      = "typing_speed"
	FeatureBackspaceRatio   = "backspace_ratio"
	FeatureHesitationTime   = "hesitation_time"
	FeaturePasteDetected    = "paste_detected"
	FeatureFocusChanges     = "focus_changes"
)

// FeatureString reads a string feature, returning "" when absent.
func (t *Transaction) FeatureString(key string) string {
	if t == nil || t.Features == nil {
		return ""
	}
	s, _ := t.Features[key].(string)
	return s
}

// FeatureFloat reads a numeric feature. Values decoded from JSON arrive as
// float64; values set in-process may be any integer or float type.
func (t *Transaction) FeatureFloat(key string) (float64, bool) {
	if t == nil || t.Features == nil {
		return 0, false
	}
	switch v := t.Features[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
