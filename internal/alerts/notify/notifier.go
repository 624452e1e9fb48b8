package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alertapp "roomwatch/internal/alerts/application"
	alerts "roomwatch/internal/alerts/domain"
)

// EventReader loads alert events for escalation checks.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (*alerts.Event, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert notifications to a channel. Critical events that
// stay unacknowledged past the escalation delay are sent again as escalated.
type Notifier struct {
	events         EventReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert, room and kind.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(events EventReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if events == nil {
		return nil, errors.New("alert notifier: nil event reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		events:         events,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, note alertapp.Notification) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, note.Type, note.Event)

	switch note.Type {
	case alertapp.NotificationFired:
		n.scheduleEscalation(note.Event)
	case alertapp.NotificationAcknowledged:
		n.cancelEscalation(note.Event.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, kind string, event alerts.Event) {
	content, err := n.template.Render(buildTemplateData(kind, event))
	if err != nil {
		n.logger.Warn("alert notification render failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	key := notificationKey(event, kind)
	if !n.shouldSend(key, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn("alert notification failed",
			zap.String("event_id", event.ID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	n.markSent(key, content)
}

func (n *Notifier) scheduleEscalation(event alerts.Event) {
	if n.escalation <= 0 || event.ID == "" || event.Severity != alerts.SeverityCrit {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[event.ID]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[event.ID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(event.ID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(eventID string) {
	if eventID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[eventID]
	delete(n.timers, eventID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(eventID string) {
	n.mu.Lock()
	delete(n.timers, eventID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	event, err := n.events.GetEvent(ctx, eventID)
	if err != nil || event == nil {
		return
	}
	if event.Acknowledged {
		return
	}
	n.dispatch(ctx, alertapp.NotificationEscalated, *event)
}

func buildTemplateData(kind string, event alerts.Event) TemplateData {
	data := TemplateData{
		EventID:    event.ID,
		AlertID:    event.AlertID,
		Name:       event.Name,
		Room:       event.Entity,
		Severity:   string(event.Severity),
		Message:    event.Message,
		FiredAt:    event.FiredAt.UTC().Format(time.RFC3339),
		Values:     event.Values,
		Event:      kind,
		EventLabel: eventLabel(kind),
	}
	if event.AcknowledgedAt != nil {
		data.AcknowledgedAt = event.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	return data
}

func eventLabel(kind string) string {
	switch kind {
	case alertapp.NotificationFired:
		return "Triggered"
	case alertapp.NotificationAcknowledged:
		return "Acknowledged"
	case alertapp.NotificationEscalated:
		return "Escalated"
	default:
		return kind
	}
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(event alerts.Event, kind string) string {
	return event.AlertID + "|" + event.Entity + "|" + kind
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
