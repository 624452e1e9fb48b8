package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conditions "roomwatch/internal/conditions/domain"
	rules "roomwatch/internal/rules/domain"
	telemetry "roomwatch/internal/telemetry/domain"
)

var t0 = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func plugRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:         id,
		Name:       id,
		Conditions: rules.ConditionSet{{Tests: []conditions.Test{}}},
		Actions:    rules.ActionList{rules.PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn}},
	}
}

func TestListRulesKeepsInsertionOrder(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	for _, id := range []string{"rule_b", "rule_a", "rule_c"} {
		require.NoError(t, repo.CreateRule(ctx, plugRule(id)))
	}
	require.NoError(t, repo.DeleteRule(ctx, "rule_a"))

	list, err := repo.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rule_b", list[0].ID)
	assert.Equal(t, "rule_c", list[1].ID)

	assert.Error(t, repo.CreateRule(ctx, plugRule("rule_b")))
	assert.Error(t, repo.CreateRule(ctx, &rules.Rule{}))
	assert.ErrorIs(t, repo.DeleteRule(ctx, "rule_a"), rules.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateRule(ctx, plugRule("rule_a")), rules.ErrNotFound)
}

func TestGetRuleReturnsCopy(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	rule := plugRule("rule_1")
	last := t0
	rule.LastFiredAt = &last
	require.NoError(t, repo.CreateRule(ctx, rule))

	got, err := repo.GetRule(ctx, "rule_1")
	require.NoError(t, err)
	got.Actions[0] = rules.TopicAction{Topic: "lab/fan"}
	got.Conditions[0].Mode = conditions.ModeAny
	*got.LastFiredAt = t0.Add(time.Hour)

	again, err := repo.GetRule(ctx, "rule_1")
	require.NoError(t, err)
	assert.Equal(t, rules.PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn}, again.Actions[0])
	assert.Equal(t, conditions.Mode(""), again.Conditions[0].Mode)
	assert.Equal(t, t0, *again.LastFiredAt)

	missing, err := repo.GetRule(ctx, "rule_none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRuleUpdateMetadataKeepsHigherCount(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	rule := plugRule("rule_1")
	rule.FireCount = 4
	require.NoError(t, repo.CreateRule(ctx, rule))

	require.NoError(t, repo.UpdateMetadata(ctx, "rule_1", rules.Metadata{LastFiredAt: t0, FireCount: 2}))
	got, err := repo.GetRule(ctx, "rule_1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.FireCount)
	assert.Equal(t, t0, *got.LastFiredAt)

	require.NoError(t, repo.UpdateMetadata(ctx, "rule_1", rules.Metadata{LastFiredAt: t0, FireCount: 9}))
	got, err = repo.GetRule(ctx, "rule_1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.FireCount)
}

func TestFireLogsLimitAndOrder(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRule(ctx, plugRule("rule_1")))

	total := rules.MaxLogLimit + 10
	for i := total - 1; i >= 0; i-- {
		require.NoError(t, repo.AppendFireLog(ctx, "rule_1", rules.FireLog{
			At:      t0.Add(time.Duration(i) * time.Second),
			Summary: "fired",
		}))
	}

	logs, err := repo.ListFireLogs(ctx, "rule_1", 0)
	require.NoError(t, err)
	require.Len(t, logs, rules.DefaultLogLimit)
	assert.Equal(t, t0.Add(time.Duration(total-rules.DefaultLogLimit)*time.Second), logs[0].At)
	assert.Equal(t, t0.Add(time.Duration(total-1)*time.Second), logs[len(logs)-1].At)

	logs, err = repo.ListFireLogs(ctx, "rule_1", 10_000)
	require.NoError(t, err)
	assert.Len(t, logs, rules.MaxLogLimit)

	require.NoError(t, repo.DeleteRule(ctx, "rule_1"))
	logs, err = repo.ListFireLogs(ctx, "rule_1", 3)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestAppendFireLogFailure(t *testing.T) {
	repo := NewRepository()
	repo.FailLogs = errors.New("disk full")

	err := repo.AppendFireLog(context.Background(), "rule_1", rules.FireLog{At: t0})
	require.Error(t, err)

	logs, err := repo.ListFireLogs(context.Background(), "rule_1", 5)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
