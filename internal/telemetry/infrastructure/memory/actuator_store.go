package memory

import (
	"sort"
	"sync"

	telemetry "roomwatch/internal/telemetry/domain"
)

// ActuatorStore keeps the last confirmed relay state per device.
// Only ingestion writes here; command publishing never does.
type ActuatorStore struct {
	mu     sync.RWMutex
	states map[string]telemetry.ActuatorState
}

// NewActuatorStore constructs an empty store.
func NewActuatorStore() *ActuatorStore {
	return &ActuatorStore{states: make(map[string]telemetry.ActuatorState)}
}

// Observe records a confirmed state. Older observations are ignored.
func (s *ActuatorStore) Observe(state telemetry.ActuatorState) {
	if s == nil || state.DeviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.states[state.DeviceID]; ok && state.ObservedAt.Before(prev.ObservedAt) {
		return
	}
	s.states[state.DeviceID] = state
}

// Actuator returns the last confirmed state for a device.
func (s *ActuatorStore) Actuator(deviceID string) (telemetry.ActuatorState, bool) {
	if s == nil {
		return telemetry.ActuatorState{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[deviceID]
	return state, ok
}

// Devices lists every device with a confirmed state, sorted.
func (s *ActuatorStore) Devices() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]string, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
