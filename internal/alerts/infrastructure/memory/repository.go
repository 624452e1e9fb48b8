package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
)

// Repository is an in-memory alert store for demo/testing.
type Repository struct {
	mu     sync.RWMutex
	order  []string
	alerts map[string]alerts.Alert
	events []alerts.Event

	// FailEvents makes CreateEvent fail, for exercising soft failures.
	FailEvents error
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{alerts: make(map[string]alerts.Alert)}
}

// ListAlerts returns definitions in insertion order.
func (r *Repository) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]alerts.Alert, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneAlert(r.alerts[id]))
	}
	return out, nil
}

// GetAlert returns nil when the alert does not exist.
func (r *Repository) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	out := cloneAlert(alert)
	return &out, nil
}

// CreateAlert stores a new definition.
func (r *Repository) CreateAlert(ctx context.Context, alert *alerts.Alert) error {
	_ = ctx
	if alert == nil || alert.ID == "" {
		return errors.New("alert memory repo: invalid alert")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return errors.New("alert memory repo: duplicate id")
	}
	r.order = append(r.order, alert.ID)
	r.alerts[alert.ID] = cloneAlert(*alert)
	return nil
}

// UpdateAlert replaces a definition.
func (r *Repository) UpdateAlert(ctx context.Context, alert *alerts.Alert) error {
	_ = ctx
	if alert == nil {
		return errors.New("alert memory repo: nil alert")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return alerts.ErrNotFound
	}
	r.alerts[alert.ID] = cloneAlert(*alert)
	return nil
}

// DeleteAlert removes a definition.
func (r *Repository) DeleteAlert(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[id]; !ok {
		return alerts.ErrNotFound
	}
	delete(r.alerts, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateMetadata records fire bookkeeping. The fire count never decreases.
func (r *Repository) UpdateMetadata(ctx context.Context, id string, meta alerts.Metadata) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return alerts.ErrNotFound
	}
	at := meta.LastFiredAt.UTC()
	alert.LastFiredAt = &at
	if meta.FireCount > alert.FireCount {
		alert.FireCount = meta.FireCount
	}
	r.alerts[id] = alert
	return nil
}

// CreateEvent appends an event.
func (r *Repository) CreateEvent(ctx context.Context, event *alerts.Event) error {
	_ = ctx
	if event == nil || event.ID == "" {
		return errors.New("alert memory repo: invalid event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEvents != nil {
		return r.FailEvents
	}
	r.events = append(r.events, cloneEvent(*event))
	return nil
}

// GetEvent returns nil when the event does not exist.
func (r *Repository) GetEvent(ctx context.Context, id string) (*alerts.Event, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, event := range r.events {
		if event.ID == id {
			out := cloneEvent(event)
			return &out, nil
		}
	}
	return nil, nil
}

// AckEvent marks an event acknowledged. Already acknowledged events are unchanged.
func (r *Repository) AckEvent(ctx context.Context, id string, at time.Time) (*alerts.Event, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID != id {
			continue
		}
		if !r.events[i].Acknowledged {
			ackAt := at.UTC()
			r.events[i].Acknowledged = true
			r.events[i].AcknowledgedAt = &ackAt
		}
		out := cloneEvent(r.events[i])
		return &out, nil
	}
	return nil, nil
}

// ListEvents returns matching events, newest first.
func (r *Repository) ListEvents(ctx context.Context, filter alerts.EventFilter) ([]alerts.Event, error) {
	_ = ctx
	filter = filter.Normalize()
	r.mu.RLock()
	matched := make([]alerts.Event, 0)
	for _, event := range r.events {
		if filter.Matches(event) {
			matched = append(matched, cloneEvent(event))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FiredAt.After(matched[j].FiredAt)
	})
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountOpenEvents counts unacknowledged events.
func (r *Repository) CountOpenEvents(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, event := range r.events {
		if !event.Acknowledged {
			count++
		}
	}
	return count, nil
}

func cloneAlert(alert alerts.Alert) alerts.Alert {
	alert.Conditions = append([]conditions.Group{}, alert.Conditions...)
	if alert.LastFiredAt != nil {
		at := *alert.LastFiredAt
		alert.LastFiredAt = &at
	}
	return alert
}

func cloneEvent(event alerts.Event) alerts.Event {
	if event.Values != nil {
		values := make(map[string]any, len(event.Values))
		for k, v := range event.Values {
			values[k] = v
		}
		event.Values = values
	}
	if event.AcknowledgedAt != nil {
		at := *event.AcknowledgedAt
		event.AcknowledgedAt = &at
	}
	return event
}
