package alerts

import "time"

// Event is the record of one alert fire for one entity.
// Only acknowledgement mutates it after creation.
type Event struct {
	ID             string         `json:"id"`
	AlertID        string         `json:"alertId"`
	Name           string         `json:"name"`
	Severity       Severity       `json:"severity"`
	Entity         string         `json:"room"`
	Message        string         `json:"message"`
	Values         map[string]any `json:"values"`
	FiredAt        time.Time      `json:"firedAt"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
}

// Default and maximum page sizes for event listings.
const (
	DefaultEventLimit = 200
	MaxEventLimit     = 1000
)

// EventFilter narrows an event listing. Results are newest first.
type EventFilter struct {
	Limit    int
	Severity Severity
	OnlyOpen bool
}

// Normalize clamps the limit.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultEventLimit
	}
	if f.Limit > MaxEventLimit {
		f.Limit = MaxEventLimit
	}
	return f
}

// Matches reports whether an event passes the severity and open filters.
func (f EventFilter) Matches(event Event) bool {
	if f.Severity != "" && event.Severity != f.Severity {
		return false
	}
	if f.OnlyOpen && event.Acknowledged {
		return false
	}
	return true
}
