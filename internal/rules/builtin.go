package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the default indicator table in reporting order.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "very-high-amount",
			Name:        "Very High Amount",
			Condition:   `amount > 50000.0`,
			Description: `"Transaction amount (₹" + format_amount(amount) + ") is extremely high"`,
			Weight:      40,
			Ladder:      domain.LadderAmount,
			Tier:        1,
			Enabled:     true,
		},
		{
			ID:          "high-amount",
			Name:        "High Amount",
			Condition:   `amount > 20000.0 && amount <= 50000.0`,
			Description: `"Transaction amount (₹" + format_amount(amount) + ") is significantly high"`,
			Weight:      25,
			Ladder:      domain.LadderAmount,
			Tier:        2,
			Enabled:     true,
		},
		{
			ID:          "late-night",
			Name:        "Late Night Transaction",
			Condition:   `hour > 23 || hour < 4`,
			Description: `"Transaction at " + string(hour) + ":00 - unusual time"`,
			Weight:      20,
			Ladder:      domain.LadderHour,
			Tier:        1,
			Enabled:     true,
		},
		{
			ID:          "off-peak",
			Name:        "Off-Peak Timing",
			Condition:   `hour > 22 || hour < 6`,
			Description: `"Transaction at " + string(hour) + ":00 - outside normal hours"`,
			Weight:      10,
			Ladder:      domain.LadderHour,
			Tier:        2,
			Enabled:     true,
		},
		{
			ID:          "unknown-merchant",
			Name:        "Unknown Merchant",
			Condition:   `has_history && !known_merchant`,
			Description: `"First time transaction to " + merchant`,
			Weight:      15,
			Enabled:     true,
		},
		{
			ID:          "anomalous-behavior",
			Name:        "Anomalous Behavior",
			Condition:   `anomaly_score > 0.7`,
			Description: `"Anomaly score " + format_score(anomaly_score)`,
			Weight:      30,
			Enabled:     true,
		},
		{
			ID:   "location-changed",
			Name: "Location Changed",
			Condition: `has_last && last_location != "" && location != last_location &&
				minutes_since_last < 120`,
			Description: `"Location changed from " + last_location + " to " + location +
				" within " + string(minutes_since_last) + " minutes"`,
			Weight:  20,
			Enabled: true,
		},
		{
			ID:   "device-changed",
			Name: "Device Changed",
			Condition: `has_last && last_device_id != "" && device_id != "" &&
				device_id != last_device_id && minutes_since_last < 120`,
			Description: `"Device changed from " + last_device_id + " to " + device_id +
				" within " + string(minutes_since_last) + " minutes"`,
			Weight:  15,
			Enabled: true,
		},
		{
			ID:          "suspicious-paste",
			Name:        "Suspicious Paste Pattern",
			Condition:   `paste_detected && backspace_ratio > 0.2`,
			Description: `"Detected paste with high backspace ratio"`,
			Weight:      10,
			Enabled:     true,
		},
		{
			ID:          "focus-changes",
			Name:        "Multiple Focus Changes",
			Condition:   `focus_changes > 5`,
			Description: `"Window focus changed " + string(focus_changes) + " times"`,
			Weight:      5,
			Enabled:     true,
		},
	}
}
