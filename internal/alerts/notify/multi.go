package notify

import (
	"context"

	alertapp "roomwatch/internal/alerts/application"
)

// MultiNotifier fans notifications out to several notifiers.
type MultiNotifier struct {
	notifiers []alertapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are ignored.
func NewMultiNotifier(notifiers ...alertapp.AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards n to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, n alertapp.Notification) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
