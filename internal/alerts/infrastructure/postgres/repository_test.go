package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
)

func setupMockRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Repository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewRepository(db)
}

var alertRowColumns = []string{
	"id", "name", "enabled", "severity", "scope_mode", "scope_room", "conditions",
	"hold_sec", "cooldown_sec", "last_fired_at", "fire_count", "created_at", "updated_at",
}

var eventRowColumns = []string{
	"id", "alert_id", "name", "severity", "entity", "message", "values",
	"fired_at", "acknowledged", "acknowledged_at",
}

func TestGetAlert_DecodesConditions(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	fired := created.Add(time.Hour)
	conds := `[{"tests":[{"type":"env","roomName":"Lab","metric":"temp_f","op":">","value":78}]}]`
	rows := sqlmock.NewRows(alertRowColumns).AddRow(
		"alert_1", "Lab hot", true, "crit", "room", "Lab", conds,
		30, 300, fired, 4, created, created,
	)
	mock.ExpectQuery(`SELECT .* FROM alerts\s+WHERE id = \$1`).
		WithArgs("alert_1").
		WillReturnRows(rows)

	alert, err := repo.GetAlert(context.Background(), "alert_1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, alerts.SeverityCrit, alert.Severity)
	assert.Equal(t, alerts.Scope{Mode: alerts.ScopeRoom, Room: "Lab"}, alert.Scope)
	require.Len(t, alert.Conditions, 1)
	env, ok := alert.Conditions[0].Tests[0].(conditions.EnvTest)
	require.True(t, ok)
	assert.Equal(t, "temp_f", env.Metric)
	require.NotNil(t, alert.LastFiredAt)
	assert.True(t, fired.Equal(*alert.LastFiredAt))
	assert.Equal(t, 4, alert.FireCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlert_NotFoundReturnsNil(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	alert, err := repo.GetAlert(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, alert)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlert_WritesConditionsJSON(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	alert := &alerts.Alert{
		ID:       "alert_2",
		Name:     "Any hot",
		Enabled:  true,
		Severity: alerts.SeverityWarn,
		Scope:    alerts.Scope{Mode: alerts.ScopeAny},
		Conditions: []conditions.Group{{Tests: []conditions.Test{
			conditions.EnvTest{Metric: "temp_f", Op: conditions.OpGt, Value: conditions.Number(80)},
		}}},
		HoldSec:     30,
		CooldownSec: 300,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	encoded, err := conditions.MarshalGroups(alert.Conditions)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs("alert_2", "Any hot", true, "warn", "any", "", encoded, 30, 300, 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateAlert(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetadata_MissingAlert(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE alerts\s+SET last_fired_at = \$2, fire_count = GREATEST\(fire_count, \$3\)`).
		WithArgs("gone", at, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateMetadata(context.Background(), "gone", alerts.Metadata{LastFiredAt: at, FireCount: 3})
	assert.ErrorIs(t, err, alerts.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents_BuildsFilter(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	fired := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(eventRowColumns).AddRow(
		"ev_1", "alert_1", "Lab hot", "crit", "Lab", "Alert \"Lab hot\" triggered in Lab",
		`{"temp_f":81}`, fired, false, nil,
	)
	mock.ExpectQuery(`FROM alert_events\s+WHERE severity = \$1 AND acknowledged = FALSE\s+ORDER BY fired_at DESC\s+LIMIT \$2`).
		WithArgs("crit", 10).
		WillReturnRows(rows)

	list, err := repo.ListEvents(context.Background(), alerts.EventFilter{Limit: 10, Severity: alerts.SeverityCrit, OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Lab", list[0].Entity)
	assert.Equal(t, float64(81), list[0].Values["temp_f"])
	assert.Nil(t, list[0].AcknowledgedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents_DefaultLimit(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alert_events\s+ORDER BY fired_at DESC\s+LIMIT \$1`).
		WithArgs(alerts.DefaultEventLimit).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	list, err := repo.ListEvents(context.Background(), alerts.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAckEvent_ReturnsStoredRow(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	fired := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ackAt := fired.Add(5 * time.Minute)
	mock.ExpectExec(`UPDATE alert_events\s+SET acknowledged = TRUE`).
		WithArgs("ev_1", ackAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM alert_events\s+WHERE id = \$1`).
		WithArgs("ev_1").
		WillReturnRows(sqlmock.NewRows(eventRowColumns).AddRow(
			"ev_1", "alert_1", "Lab hot", "crit", "Lab", "msg", `{}`, fired, true, ackAt,
		))

	event, err := repo.AckEvent(context.Background(), "ev_1", ackAt)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Acknowledged)
	require.NotNil(t, event.AcknowledgedAt)
	assert.True(t, ackAt.Equal(*event.AcknowledgedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOpenEvents(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM alert_events WHERE acknowledged = FALSE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountOpenEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDB(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.ListAlerts(context.Background())
	assert.Error(t, err)
}
