package events

import (
	"time"

	alerts "roomwatch/internal/alerts/domain"
)

// AlertFired is emitted by the scheduler when an alert fires for an entity.
type AlertFired struct {
	AlertID    string       `json:"alert_id"`
	Event      alerts.Event `json:"event"`
	FireCount  int          `json:"fire_count"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// EventAcknowledged is emitted after an alert event is acknowledged.
type EventAcknowledged struct {
	AlertID    string       `json:"alert_id"`
	Event      alerts.Event `json:"event"`
	OccurredAt time.Time    `json:"occurred_at"`
}
