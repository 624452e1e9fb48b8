package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
)

var t0 = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func TestListAlertsKeepsInsertionOrder(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	for _, id := range []string{"alert_b", "alert_a", "alert_c"} {
		require.NoError(t, repo.CreateAlert(ctx, &alerts.Alert{ID: id, Name: id}))
	}
	require.NoError(t, repo.DeleteAlert(ctx, "alert_a"))

	list, err := repo.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alert_b", list[0].ID)
	assert.Equal(t, "alert_c", list[1].ID)

	assert.Error(t, repo.CreateAlert(ctx, &alerts.Alert{ID: "alert_b"}))
	assert.ErrorIs(t, repo.DeleteAlert(ctx, "alert_a"), alerts.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateAlert(ctx, &alerts.Alert{ID: "alert_a"}), alerts.ErrNotFound)
}

func TestGetAlertReturnsCopy(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	last := t0
	require.NoError(t, repo.CreateAlert(ctx, &alerts.Alert{
		ID:          "alert_1",
		Name:        "Hot",
		Conditions:  []conditions.Group{{Tests: []conditions.Test{}}},
		LastFiredAt: &last,
	}))

	got, err := repo.GetAlert(ctx, "alert_1")
	require.NoError(t, err)
	got.Name = "changed"
	got.Conditions[0].Mode = conditions.ModeAny
	*got.LastFiredAt = t0.Add(time.Hour)

	again, err := repo.GetAlert(ctx, "alert_1")
	require.NoError(t, err)
	assert.Equal(t, "Hot", again.Name)
	assert.Equal(t, conditions.Mode(""), again.Conditions[0].Mode)
	assert.Equal(t, t0, *again.LastFiredAt)

	missing, err := repo.GetAlert(ctx, "alert_none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAlertUpdateMetadataKeepsHigherCount(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateAlert(ctx, &alerts.Alert{ID: "alert_1", FireCount: 5}))

	require.NoError(t, repo.UpdateMetadata(ctx, "alert_1", alerts.Metadata{LastFiredAt: t0, FireCount: 3}))
	got, err := repo.GetAlert(ctx, "alert_1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.FireCount)
	assert.Equal(t, t0, *got.LastFiredAt)

	assert.ErrorIs(t, repo.UpdateMetadata(ctx, "alert_none", alerts.Metadata{}), alerts.ErrNotFound)
}

func TestEventsListAckAndCount(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	for i, sev := range []alerts.Severity{alerts.SeverityWarn, alerts.SeverityCrit, alerts.SeverityWarn} {
		require.NoError(t, repo.CreateEvent(ctx, &alerts.Event{
			ID:       "ev_" + string(rune('a'+i)),
			AlertID:  "alert_1",
			Severity: sev,
			Values:   map[string]any{"temp_f": 80.0},
			FiredAt:  t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	open, err := repo.CountOpenEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, open)

	acked, err := repo.AckEvent(ctx, "ev_b", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, acked)
	assert.True(t, acked.Acknowledged)

	again, err := repo.AckEvent(ctx, "ev_b", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), *again.AcknowledgedAt)

	missing, err := repo.AckEvent(ctx, "ev_none", t0)
	require.NoError(t, err)
	assert.Nil(t, missing)

	open, err = repo.CountOpenEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, open)

	list, err := repo.ListEvents(ctx, alerts.EventFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"ev_c", "ev_b", "ev_a"}, []string{list[0].ID, list[1].ID, list[2].ID})

	list, err = repo.ListEvents(ctx, alerts.EventFilter{Severity: alerts.SeverityWarn, OnlyOpen: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ev_c", list[0].ID)

	list[0].Values["temp_f"] = 0.0
	stored, err := repo.GetEvent(ctx, "ev_c")
	require.NoError(t, err)
	assert.Equal(t, 80.0, stored.Values["temp_f"])
}

func TestCreateEventFailure(t *testing.T) {
	repo := NewRepository()
	repo.FailEvents = errors.New("disk full")

	err := repo.CreateEvent(context.Background(), &alerts.Event{ID: "ev_1"})
	require.Error(t, err)
	assert.Error(t, repo.CreateEvent(context.Background(), nil))

	open, err := repo.CountOpenEvents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, open)
}
