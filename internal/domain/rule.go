package domain

// RuleConfig defines an indicator rule.
type RuleConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// CEL expression that must evaluate to bool
	Condition string `json:"condition"`

	// CEL expression that must evaluate to string; rendered only on match
	Description string `json:"description"`

	// Points added to the risk score when the rule matches
	Weight int `json:"weight"`

	// Ladder groups tiered rules over one dimension. Within a ladder only the
	// matched rule with the lowest Tier is reported.
	Ladder string `json:"ladder,omitempty"`
	Tier   int    `json:"tier,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// Ladder names used by the built-in rules.
const (
	LadderAmount = "amount"
	LadderHour   = "hour"
)
