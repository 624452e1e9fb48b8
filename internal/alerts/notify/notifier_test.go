package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "roomwatch/internal/alerts/application"
	alerts "roomwatch/internal/alerts/domain"
)

type stubEventRepo struct {
	mu    sync.Mutex
	event *alerts.Event
}

func (s *stubEventRepo) GetEvent(_ context.Context, _ string) (*alerts.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		return nil, nil
	}
	copied := *s.event
	return &copied, nil
}

func (s *stubEventRepo) ack() {
	s.mu.Lock()
	s.event.Acknowledged = true
	s.mu.Unlock()
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func sampleEvent(id string, severity alerts.Severity, firedAt time.Time) alerts.Event {
	return alerts.Event{
		ID:       id,
		AlertID:  "alert_hot",
		Name:     "Lab hot",
		Severity: severity,
		Entity:   "Lab",
		Message:  "Alert \"Lab hot\" triggered in Lab — temp 81°F",
		Values:   map[string]any{"temp_f": 81.0},
		FiredAt:  firedAt,
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	event := sampleEvent("ev_1", alerts.SeverityWarn, time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(&stubEventRepo{event: &event}, channel, nil)
	require.NoError(t, err)

	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})

	select {
	case payload := <-payloadCh:
		assert.Equal(t, "text", payload.MsgType)
		content := payload.Text.Content
		for _, expected := range []string{
			"[Alert Triggered] Lab hot",
			"Room: Lab",
			"Severity: warn",
			"Fired At: 2026-01-26T08:00:00Z",
			"temp 81°F",
		} {
			assert.Contains(t, content, expected)
		}
		assert.NotContains(t, content, "Acknowledged At")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	err = channel.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = NewWebhookChannel("")
	assert.Error(t, err)
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(&stubEventRepo{}, channel, nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	require.NoError(t, err)

	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: sampleEvent("ev_1", alerts.SeverityWarn, clock.Now())})
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: sampleEvent("ev_2", alerts.SeverityWarn, clock.Now())})
	assert.Equal(t, 1, channel.Count())

	other := sampleEvent("ev_3", alerts.SeverityWarn, clock.Now())
	other.Entity = "Lobby"
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: other})
	assert.Equal(t, 2, channel.Count())

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: sampleEvent("ev_4", alerts.SeverityWarn, clock.Now())})
	assert.Equal(t, 3, channel.Count())
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(&stubEventRepo{}, channel, nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	require.NoError(t, err)

	event := sampleEvent("ev_1", alerts.SeverityWarn, clock.Now())
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})
	assert.Equal(t, 1, channel.Count())

	event.Message = "Alert \"Lab hot\" triggered in Lab — temp 85°F"
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})
	assert.Equal(t, 2, channel.Count())
}

func waitForCount(t *testing.T, channel *recordingChannel, want int, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for channel.Count() < want {
		select {
		case <-deadline:
			t.Fatalf("expected %d notifications, got %d", want, channel.Count())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestNotifierEscalatesUnacknowledgedCritical(t *testing.T) {
	channel := &recordingChannel{}
	event := sampleEvent("ev_crit", alerts.SeverityCrit, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(&stubEventRepo{event: &event}, channel, nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})

	waitForCount(t, channel, 2, 500*time.Millisecond)
	assert.True(t, strings.Contains(channel.Latest(), "Escalated"))
}

func TestNotifierSkipsEscalationAfterAck(t *testing.T) {
	channel := &recordingChannel{}
	event := sampleEvent("ev_crit", alerts.SeverityCrit, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	repo := &stubEventRepo{event: &event}
	notifier, err := NewNotifier(repo, channel, nil, WithEscalation(30*time.Millisecond))
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})
	repo.ack()
	acked := event
	acked.Acknowledged = true
	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationAcknowledged, Event: acked})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, channel.Count())
	assert.Contains(t, channel.Latest(), "[Alert Acknowledged]")
}

func TestNotifierDoesNotEscalateWarnings(t *testing.T) {
	channel := &recordingChannel{}
	event := sampleEvent("ev_warn", alerts.SeverityWarn, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(&stubEventRepo{event: &event}, channel, nil, WithEscalation(10*time.Millisecond))
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: event})
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, channel.Count())
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	n1, err := NewNotifier(&stubEventRepo{}, first, nil)
	require.NoError(t, err)
	n2, err := NewNotifier(&stubEventRepo{}, second, nil)
	require.NoError(t, err)

	multi := NewMultiNotifier(n1, nil, n2)
	multi.Notify(context.Background(), alertapp.Notification{Type: alertapp.NotificationFired, Event: sampleEvent("ev_1", alerts.SeverityInfo, time.Now())})

	assert.Equal(t, 1, first.Count())
	assert.Equal(t, 1, second.Count())
}

func TestNewNotifierValidation(t *testing.T) {
	_, err := NewNotifier(nil, &recordingChannel{}, nil)
	assert.Error(t, err)
	_, err = NewNotifier(&stubEventRepo{}, nil, nil)
	assert.Error(t, err)
	_, err = NewTemplate("{{.Broken")
	assert.Error(t, err)
}
