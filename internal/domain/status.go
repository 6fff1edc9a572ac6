package domain

// State is the outcome class of an enrichment component.
type State string

const (
	// StateOK means the value was genuinely computed.
	StateOK State = "ok"

	// StateDegraded means a neutral or partial value was substituted.
	StateDegraded State = "degraded"

	// StateUnavailable means the component could not run at all.
	StateUnavailable State = "unavailable"
)

// Component names reported in ComponentStatus.
const (
	ComponentFrequency   = "frequency"
	ComponentAnalytics   = "analytics"
	ComponentIndicators  = "indicators"
	ComponentEnsemble    = "ensemble"
	ComponentExplanation = "explanation"
	ComponentPersistence = "persistence"
	ComponentEncryption  = "encryption"
	ComponentProfile     = "profile"
)

// ComponentStatus reports how a pipeline component produced its value.
type ComponentStatus struct {
	Component string `json:"component"`
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// OK returns a status for a component that computed its value.
func OK(component string) ComponentStatus {
	return ComponentStatus{Component: component, State: StateOK}
}

// Degraded returns a status for a component that fell back to a neutral value.
func Degraded(component, reason string) ComponentStatus {
	return ComponentStatus{Component: component, State: StateDegraded, Reason: reason}
}

// Unavailable returns a status for a component that did not run.
func Unavailable(component, reason string) ComponentStatus {
	return ComponentStatus{Component: component, State: StateUnavailable, Reason: reason}
}

// Healthy reports whether the status is StateOK.
func (s ComponentStatus) Healthy() bool {
	return s.State == StateOK
}
