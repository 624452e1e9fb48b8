package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conditions "roomwatch/internal/conditions/domain"
	telemetry "roomwatch/internal/telemetry/domain"
)

func validRule() Rule {
	return Rule{
		Name:        "Fan on when hot",
		Enabled:     true,
		Priority:    DefaultPriority,
		CooldownSec: DefaultCooldownSec,
		Conditions: []conditions.Group{{Tests: []conditions.Test{
			conditions.EnvTest{RoomName: "Lab", Metric: telemetry.MetricTempF, Op: conditions.OpGt, Value: conditions.Number(78)},
		}}},
		Actions: ActionList{PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn}},
	}
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, validRule().Validate())

	cases := map[string]func(r *Rule){
		"name":     func(r *Rule) { r.Name = "" },
		"cooldown": func(r *Rule) { r.CooldownSec = -1 },
		"actions":  func(r *Rule) { r.Actions = ActionList{} },
		"device":   func(r *Rule) { r.Actions = ActionList{PlugAction{Command: telemetry.CommandOff}} },
		"command":  func(r *Rule) { r.Actions = ActionList{PlugAction{DeviceID: "plug-1", Command: "TOGGLE"}} },
		"topic":    func(r *Rule) { r.Actions = ActionList{TopicAction{Payload: "x"}} },
		"nil":      func(r *Rule) { r.Actions = ActionList{nil} },
		"contains": func(r *Rule) {
			r.Conditions = []conditions.Group{{Tests: []conditions.Test{
				conditions.EnvTest{RoomName: "Lab", Metric: "status", Op: conditions.OpContains, Value: conditions.Text("x")},
			}}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rule := validRule()
			mutate(&rule)
			require.ErrorIs(t, rule.Validate(), ErrInvalidDefinition)
		})
	}
}

func TestRuleNormalize(t *testing.T) {
	rule := Rule{Name: "  Lights  "}
	rule.Normalize()
	assert.Equal(t, "Lights", rule.Name)
	assert.NotNil(t, rule.Conditions)
	assert.NotNil(t, rule.Actions)
}

func TestActionListJSON(t *testing.T) {
	raw := `[{"type":"plug","deviceId":" plug-1 ","command":"on"},{"type":"topic","topic":"lab/fan","payload":"{\"speed\":2}"}]`
	var list ActionList
	require.NoError(t, json.Unmarshal([]byte(raw), &list))
	require.Len(t, list, 2)
	assert.Equal(t, PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOn}, list[0])
	assert.Equal(t, TopicAction{Topic: "lab/fan", Payload: `{"speed":2}`}, list[1])

	encoded, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"plug","deviceId":"plug-1","command":"ON"},{"type":"topic","topic":"lab/fan","payload":"{\"speed\":2}"}]`, string(encoded))

	err = json.Unmarshal([]byte(`[{"type":"email"}]`), &list)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestRuleJSONRoundTripKeepsActions(t *testing.T) {
	rule := validRule()
	rule.ID = "rule_1"
	encoded, err := json.Marshal(rule)
	require.NoError(t, err)

	var decoded Rule
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, rule.Actions, decoded.Actions)
	assert.Equal(t, 100, decoded.Priority)
}

func TestConditionSetJSON(t *testing.T) {
	var rule Rule
	raw := `{"name":"Lights","conditions":{"groups":[{"mode":"ANY","tests":[{"type":"occ","roomName":"Lab","op":">","value":0,"debounceSec":20}]}]},"actions":[]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rule))
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, conditions.ModeAny, rule.Conditions[0].Mode)
	occ, ok := rule.Conditions[0].Tests[0].(conditions.OccupancyTest)
	require.True(t, ok)
	assert.Equal(t, 20, occ.DebounceSec)

	encoded, err := json.Marshal(rule.Conditions)
	require.NoError(t, err)
	assert.JSONEq(t, `{"groups":[{"mode":"ANY","tests":[{"type":"occ","roomName":"Lab","op":">","value":0,"debounceSec":20}]}]}`, string(encoded))

	var legacy Rule
	require.NoError(t, json.Unmarshal([]byte(`{"conditions":[{"tests":[{"metric":"temp_f","op":">","value":78}]}]}`), &legacy))
	require.Len(t, legacy.Conditions, 1)

	var decoded ConditionSet
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, rule.Conditions, decoded)

	empty, err := json.Marshal(ConditionSet(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"groups":[]}`, string(empty))
}

func TestAppliedRecords(t *testing.T) {
	plug, err := json.Marshal(Applied(PlugAction{DeviceID: "plug-1", Command: telemetry.CommandOff}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"plug","deviceId":"plug-1","command":"OFF"}`, string(plug))

	topic, err := json.Marshal(Applied(TopicAction{Topic: "lab/fan", Payload: "secret"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"topic","topic":"lab/fan"}`, string(topic))
}

func TestClampLogLimit(t *testing.T) {
	assert.Equal(t, DefaultLogLimit, ClampLogLimit(0))
	assert.Equal(t, DefaultLogLimit, ClampLogLimit(-3))
	assert.Equal(t, 7, ClampLogLimit(7))
	assert.Equal(t, MaxLogLimit, ClampLogLimit(1000))
}
