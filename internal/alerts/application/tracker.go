package application

import (
	"sync"
	"time"

	alerts "roomwatch/internal/alerts/domain"
)

// Tracker holds breach state per (alert, entity). It lives in memory only.
type Tracker struct {
	mu     sync.Mutex
	states map[alerts.BreachKey]alerts.BreachState
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[alerts.BreachKey]alerts.BreachState)}
}

// Observe feeds one evaluation result and reports whether the alert fires.
func (t *Tracker) Observe(key alerts.BreachKey, satisfied bool, now time.Time, hold, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, fired := t.states[key].Observe(satisfied, now, hold, cooldown)
	t.states[key] = next
	return fired
}

// State returns the current state of one pair.
func (t *Tracker) State(key alerts.BreachKey) (alerts.BreachState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[key]
	return state, ok
}

// Snapshot copies every tracked state.
func (t *Tracker) Snapshot() map[alerts.BreachKey]alerts.BreachState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[alerts.BreachKey]alerts.BreachState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// RestoreLastFires seeds cooldown bookkeeping after a restart. Breach start
// times are not restored, so hold timers always begin fresh.
func (t *Tracker) RestoreLastFires(lastFires map[alerts.BreachKey]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, at := range lastFires {
		if at.IsZero() {
			continue
		}
		state := t.states[key]
		if state.LastFireAt.Before(at) {
			state.LastFireAt = at
		}
		t.states[key] = state
	}
}

// Forget drops every state of an alert.
func (t *Tracker) Forget(alertID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.states {
		if key.AlertID == alertID {
			delete(t.states, key)
		}
	}
}
