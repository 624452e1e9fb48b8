package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conditions "roomwatch/internal/conditions/domain"
	rules "roomwatch/internal/rules/domain"
	telemetry "roomwatch/internal/telemetry/domain"
)

func setupMockRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Repository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewRepository(db)
}

var ruleRowColumns = []string{
	"id", "name", "enabled", "priority", "cooldown_sec", "conditions", "actions",
	"last_fired_at", "fire_count", "created_at", "updated_at",
}

func TestGetRule_DecodesActions(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	conds := `[{"mode":"ALL","tests":[{"type":"occ","roomName":"Lab","op":">","value":0,"debounceSec":15}]}]`
	actions := `[{"type":"plug","deviceId":"plug-1","command":"ON"},{"type":"topic","topic":"lab/fan","payload":"2"}]`
	mock.ExpectQuery(`SELECT .* FROM rules\s+WHERE id = \$1`).
		WithArgs("rule_1").
		WillReturnRows(sqlmock.NewRows(ruleRowColumns).AddRow(
			"rule_1", "Lights on", true, 10, 30, conds, actions, nil, 2, created, created,
		))

	rule, err := repo.GetRule(context.Background(), "rule_1")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, 10, rule.Priority)
	assert.Nil(t, rule.LastFiredAt)
	require.Len(t, rule.Conditions, 1)
	require.Len(t, rule.Conditions[0].Tests, 1)
	occ, ok := rule.Conditions[0].Tests[0].(conditions.OccupancyTest)
	require.True(t, ok, "got %T", rule.Conditions[0].Tests[0])
	assert.Equal(t, "Lab", occ.RoomName)
	assert.Equal(t, conditions.OpGt, occ.Op)
	assert.Equal(t, 15, occ.DebounceSec)
	assert.Equal(t, rules.ActionList{
		rules.PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn},
		rules.TopicAction{Topic: "lab/fan", Payload: "2"},
	}, rule.Actions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRule_DecodesGroupsObject(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	conds := `{"groups":[{"tests":[{"type":"env","roomName":"Lab","metric":"temp_f","op":">","value":78}]}]}`
	mock.ExpectQuery(`SELECT .* FROM rules\s+WHERE id = \$1`).
		WithArgs("rule_3").
		WillReturnRows(sqlmock.NewRows(ruleRowColumns).AddRow(
			"rule_3", "Fan", true, 100, 30, conds, `[]`, nil, 0, created, created,
		))

	rule, err := repo.GetRule(context.Background(), "rule_3")
	require.NoError(t, err)
	require.Len(t, rule.Conditions, 1)
	env, ok := rule.Conditions[0].Tests[0].(conditions.EnvTest)
	require.True(t, ok)
	assert.Equal(t, "temp_f", env.Metric)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRule_NotFoundReturnsNil(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rule, err := repo.GetRule(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rule)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRule_WritesJSONColumns(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rule := &rules.Rule{
		ID:          "rule_2",
		Name:        "Fan",
		Enabled:     true,
		Priority:    100,
		CooldownSec: 30,
		Conditions: []conditions.Group{{Tests: []conditions.Test{
			conditions.EnvTest{RoomName: "Lab", Metric: "temp_f", Op: conditions.OpGt, Value: conditions.Number(78)},
		}}},
		Actions:   rules.ActionList{rules.PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	conds, err := conditions.MarshalGroups(rule.Conditions)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO rules`).
		WithArgs("rule_2", "Fan", true, 100, 30, conds,
			[]byte(`[{"type":"plug","deviceId":"plug-1","command":"ON"}]`), 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateRule(context.Background(), rule))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRule_Missing(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE rules\s+SET name = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRule(context.Background(), &rules.Rule{ID: "gone", Name: "x"})
	assert.ErrorIs(t, err, rules.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetadata_KeepsHigherCount(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE rules\s+SET last_fired_at = \$2, fire_count = GREATEST\(fire_count, \$3\)`).
		WithArgs("rule_1", at, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateMetadata(context.Background(), "rule_1", rules.Metadata{LastFiredAt: at, FireCount: 5}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFireLog(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO rule_fire_logs \(rule_id, at, summary, actions\)`).
		WithArgs("rule_1", at, "Fan fired; actions: 1", []byte(`[{"type":"topic","topic":"lab/fan"}]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AppendFireLog(context.Background(), "rule_1", rules.FireLog{
		At:      at,
		Summary: "Fan fired; actions: 1",
		Actions: []rules.AppliedAction{{Type: rules.ActionTopic, Topic: "lab/fan"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFireLogs_RecentAscending(t *testing.T) {
	db, mock, repo := setupMockRepo(t)
	defer db.Close()

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`ORDER BY at DESC, id DESC\s+LIMIT \$2\s+\) recent\s+ORDER BY at ASC, id ASC`).
		WithArgs("rule_1", rules.MaxLogLimit).
		WillReturnRows(sqlmock.NewRows([]string{"at", "summary", "actions"}).
			AddRow(first, "a", `[{"type":"plug","deviceId":"plug-1","command":"OFF"}]`).
			AddRow(first.Add(time.Minute), "b", nil))

	logs, err := repo.ListFireLogs(context.Background(), "rule_1", 999)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].Summary)
	assert.Equal(t, telemetry.CommandOff, logs[0].Actions[0].Command)
	assert.Empty(t, logs[1].Actions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDB(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.ListRules(context.Background())
	assert.Error(t, err)
}
