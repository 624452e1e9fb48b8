package alerts

import "time"

// BreachKey identifies breach tracking for one alert and one entity.
type BreachKey struct {
	AlertID string
	Entity  string
}

// String renders the key as "<alertId>::<entity>".
func (k BreachKey) String() string {
	return k.AlertID + "::" + k.Entity
}

// BreachState is the in-memory state machine of one (alert, entity) pair.
//
//	Idle      -> Breaching  when the conditions first hold
//	Breaching -> Fired      when they held for the hold time and the cooldown elapsed
//	any       -> Idle       as soon as one evaluation is false
type BreachState struct {
	BreachStartAt time.Time
	LastFireAt    time.Time
	Breached      bool
}

// Phase names the current state.
func (s BreachState) Phase() string {
	switch {
	case s.Breached:
		return "fired"
	case !s.BreachStartAt.IsZero():
		return "breaching"
	default:
		return "idle"
	}
}

// Observe advances the state with one evaluation result and reports whether
// the alert fires on this tick.
func (s BreachState) Observe(satisfied bool, now time.Time, hold, cooldown time.Duration) (BreachState, bool) {
	if !satisfied {
		s.BreachStartAt = time.Time{}
		s.Breached = false
		return s, false
	}
	if s.BreachStartAt.IsZero() {
		s.BreachStartAt = now
	}
	if s.Breached {
		return s, false
	}
	if now.Sub(s.BreachStartAt) < hold {
		return s, false
	}
	if !s.LastFireAt.IsZero() && now.Sub(s.LastFireAt) < cooldown {
		return s, false
	}
	s.Breached = true
	s.LastFireAt = now
	return s, true
}
