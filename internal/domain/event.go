package domain

import "time"

// Event types emitted to stream subscribers.
const (
	EventTransaction = "transaction"
	EventBlocked     = "blocked"
	EventClear       = "clear"
)

// Event is one entry of the scoring event stream.
type Event struct {
	Type        string                `json:"type"`
	Transaction *Transaction          `json:"transaction,omitempty"`
	Predictions map[string]Prediction `json:"predictions,omitempty"`
	Message     string                `json:"message,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
}
