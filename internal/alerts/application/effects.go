package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"roomwatch/internal/alerts/application/events"
	alerts "roomwatch/internal/alerts/domain"
	"roomwatch/internal/eventing"
	"roomwatch/internal/observability/metrics"
)

// Notification kinds.
const (
	NotificationFired        = "fired"
	NotificationAcknowledged = "acknowledged"
	NotificationEscalated    = "escalated"
)

// AlertNotifier delivers alert lifecycle notifications.
type AlertNotifier interface {
	Notify(ctx context.Context, n Notification)
}

// Notification is one alert lifecycle update.
type Notification struct {
	Type  string       `json:"type"`
	Event alerts.Event `json:"event"`
}

// FireStore is the persistence used by fire side effects.
type FireStore interface {
	CreateEvent(ctx context.Context, event *alerts.Event) error
	UpdateMetadata(ctx context.Context, id string, meta alerts.Metadata) error
}

// FireRecorder performs the side effects of alert fires and acknowledgements.
// A failing step is logged and the remaining steps still run.
type FireRecorder struct {
	store    FireStore
	badge    *Badge
	notifier AlertNotifier
	logger   *zap.Logger
}

// NewFireRecorder constructs the alert side-effect handler.
func NewFireRecorder(store FireStore, badge *Badge, notifier AlertNotifier, logger *zap.Logger) (*FireRecorder, error) {
	if store == nil {
		return nil, errors.New("alerts recorder: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FireRecorder{store: store, badge: badge, notifier: notifier, logger: logger}, nil
}

// Register subscribes the recorder on the bus.
func (r *FireRecorder) Register(bus eventing.EventBus) {
	bus.Subscribe(eventing.EventTypeOf[events.AlertFired](), eventing.Handle(r.HandleAlertFired))
	bus.Subscribe(eventing.EventTypeOf[events.EventAcknowledged](), eventing.Handle(r.HandleEventAcknowledged))
}

// HandleAlertFired persists the event and fire metadata, then notifies.
func (r *FireRecorder) HandleAlertFired(ctx context.Context, evt events.AlertFired) error {
	var errs []error

	event := evt.Event
	if err := r.store.CreateEvent(ctx, &event); err != nil {
		errs = append(errs, fmt.Errorf("create event: %w", err))
		r.fail("create_event", evt.AlertID, err)
	} else {
		metrics.IncSideEffect("create_event", metrics.ResultSuccess)
	}

	meta := alerts.Metadata{LastFiredAt: evt.OccurredAt, FireCount: evt.FireCount}
	if err := r.store.UpdateMetadata(ctx, evt.AlertID, meta); err != nil {
		errs = append(errs, fmt.Errorf("update metadata: %w", err))
		r.fail("update_metadata", evt.AlertID, err)
	} else {
		metrics.IncSideEffect("update_metadata", metrics.ResultSuccess)
	}

	r.refreshBadge(ctx)
	if r.notifier != nil {
		r.notifier.Notify(ctx, Notification{Type: NotificationFired, Event: event})
	}
	return errors.Join(errs...)
}

// HandleEventAcknowledged refreshes the badge and notifies.
func (r *FireRecorder) HandleEventAcknowledged(ctx context.Context, evt events.EventAcknowledged) error {
	r.refreshBadge(ctx)
	if r.notifier != nil {
		r.notifier.Notify(ctx, Notification{Type: NotificationAcknowledged, Event: evt.Event})
	}
	return nil
}

func (r *FireRecorder) refreshBadge(ctx context.Context) {
	if r.badge == nil {
		return
	}
	if _, err := r.badge.Refresh(ctx); err != nil {
		r.logger.Warn("badge refresh failed", zap.Error(err))
	}
}

func (r *FireRecorder) fail(task, alertID string, err error) {
	metrics.IncSideEffect(task, metrics.ResultError)
	r.logger.Error("alert side effect failed",
		zap.String("task", task),
		zap.String("alert_id", alertID),
		zap.Error(err))
}
