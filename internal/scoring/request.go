package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidRequest is returned for requests that fail boundary validation.
var ErrInvalidRequest = errors.New("invalid scoring request")

// Default values for optional request fields.
const (
	DefaultCategory = "Transfer"
	DefaultLocation = "Unknown"
)

// Request is one transaction to score. Behavioral fields are optional.
type Request struct {
	Identifier string  `json:"identifier"`
	Amount     float64 `json:"amount"`
	Hour       int     `json:"hour"`
	Merchant   string  `json:"merchant,omitempty"`
	Category   string  `json:"category,omitempty"`
	Location   string  `json:"location,omitempty"`
	DeviceID   string  `json:"device_id,omitempty"`

	TypingSpeed    *float64 `json:"typing_speed,omitempty"`
	BackspaceRatio *float64 `json:"backspace_ratio,omitempty"`
	HesitationTime *float64 `json:"hesitation_time,omitempty"`
	PasteDetected  *int     `json:"paste_detected,omitempty"`
	FocusChanges   *int     `json:"focus_changes,omitempty"`
}

// Validate checks the request and fills defaults for omitted fields.
func (r *Request) Validate() error {
	r.Identifier = strings.TrimSpace(r.Identifier)
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	if r.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidRequest)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("%w: hour must be within 0-23", ErrInvalidRequest)
	}
	if r.BackspaceRatio != nil && (*r.BackspaceRatio < 0 || *r.BackspaceRatio > 1) {
		return fmt.Errorf("%w: backspace_ratio must be within 0-1", ErrInvalidRequest)
	}
	if r.FocusChanges != nil && *r.FocusChanges < 0 {
		return fmt.Errorf("%w: focus_changes must be non-negative", ErrInvalidRequest)
	}
	if r.PasteDetected != nil && *r.PasteDetected != 0 && *r.PasteDetected != 1 {
		return fmt.Errorf("%w: paste_detected must be 0 or 1", ErrInvalidRequest)
	}

	if r.Merchant = strings.TrimSpace(r.Merchant); r.Merchant == "" {
		r.Merchant = domain.DefaultMerchant
	}
	if r.Category = strings.TrimSpace(r.Category); r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Location = strings.TrimSpace(r.Location); r.Location == "" {
		r.Location = DefaultLocation
	}
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	return nil
}

// features seeds the feature map with the request's own signals.
func (r *Request) features() map[string]any {
	f := map[string]any{domain.FeatureHour: r.Hour}
	if r.DeviceID != "" {
		f[domain.FeatureDeviceID] = r.DeviceID
	}
	if r.TypingSpeed != nil {
		f[domain.FeatureTypingSpeed] = *r.TypingSpeed
	}
	if r.BackspaceRatio != nil {
		f[domain.FeatureBackspaceRatio] = *r.BackspaceRatio
	}
	if r.HesitationTime != nil {
		f[domain.FeatureHesitationTime] = *r.HesitationTime
	}
	if r.PasteDetected != nil {
		f[domain.FeaturePasteDetected] = *r.PasteDetected
	}
	if r.FocusChanges != nil {
		f[domain.FeatureFocusChanges] = *r.FocusChanges
	}
	return f
}

func (r *Request) behavior() (paste bool, backspace float64, focus int) {
	if r.PasteDetected != nil {
		paste = *r.PasteDetected == 1
	}
	if r.BackspaceRatio != nil {
		backspace = *r.BackspaceRatio
	}
	if r.FocusChanges != nil {
		focus = *r.FocusChanges
	}
	return paste, backspace, focus
}
