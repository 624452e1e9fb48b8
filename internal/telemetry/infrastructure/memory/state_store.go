package memory

import (
	"sort"
	"sync"

	telemetry "roomwatch/internal/telemetry/domain"
)

type stateKey struct {
	kind     telemetry.Kind
	entityID string
}

// StateStore keeps the latest sample per (kind, entity).
// Upserts replace the previous sample wholesale; samples are never evicted.
type StateStore struct {
	mu      sync.RWMutex
	samples map[stateKey]telemetry.Sample
}

// NewStateStore constructs an empty store.
func NewStateStore() *StateStore {
	return &StateStore{samples: make(map[stateKey]telemetry.Sample)}
}

// Upsert replaces the latest sample for the entity.
func (s *StateStore) Upsert(sample telemetry.Sample) {
	if s == nil || sample.EntityID == "" {
		return
	}
	sample.Fields = sample.Fields.Clone()
	s.mu.Lock()
	s.samples[stateKey{kind: sample.Kind, entityID: sample.EntityID}] = sample
	s.mu.Unlock()
}

// Get returns a copy of the latest sample.
func (s *StateStore) Get(kind telemetry.Kind, entityID string) (telemetry.Sample, bool) {
	if s == nil {
		return telemetry.Sample{}, false
	}
	s.mu.RLock()
	sample, ok := s.samples[stateKey{kind: kind, entityID: entityID}]
	s.mu.RUnlock()
	if !ok {
		return telemetry.Sample{}, false
	}
	sample.Fields = sample.Fields.Clone()
	return sample, true
}

// Entities lists every entity with a sensor or occupancy sample, sorted.
func (s *StateStore) Entities() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	seen := make(map[string]struct{}, len(s.samples))
	for key := range s.samples {
		seen[key.entityID] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored samples.
func (s *StateStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}
