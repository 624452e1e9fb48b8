package conditions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() []Group {
	return []Group{
		{
			Mode: ModeAll,
			Tests: []Test{
				EnvTest{Metric: "temp_f", Op: OpGt, Value: Number(78.5), RoomName: "WWH015"},
				EnvTest{Metric: "light_on", Op: OpEq, Value: Number(1), DeviceID: "dtn-e41358088304"},
				EnvTest{Metric: "status", Op: OpContains, Value: Text("offline")},
			},
		},
		{
			Mode: ModeAny,
			Tests: []Test{
				OccupancyTest{Op: OpGte, Value: Number(3), DebounceSec: 20, RoomName: "WWH015"},
				TimeTest{Op: OpGte, StartAt: "2026-03-02T08:00:00Z", RepeatDays: 2},
			},
		},
		{Tests: []Test{}},
	}
}

func TestGroupsRoundTrip(t *testing.T) {
	tree := sampleTree()

	first, err := MarshalGroups(tree)
	require.NoError(t, err)

	decoded, err := UnmarshalGroups(first)
	require.NoError(t, err)
	assert.Equal(t, tree, decoded)

	second, err := MarshalGroups(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestGroupWireFormat(t *testing.T) {
	data, err := json.Marshal(Group{Tests: []Test{
		OccupancyTest{Op: OpGte, Value: Number(3), DebounceSec: 20},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tests":[{"type":"occ","op":">=","value":3,"debounceSec":20}]}`, string(data))
}

func TestDecodeDefaultsToEnvTest(t *testing.T) {
	groups, err := UnmarshalGroups([]byte(`[{"tests":[{"metric":"rh_pct","op":"<","value":"30"}]}]`))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	test, ok := groups[0].Tests[0].(EnvTest)
	require.True(t, ok)
	assert.Equal(t, "rh_pct", test.Metric)
	f, ok := test.Value.Float()
	assert.True(t, ok)
	assert.Equal(t, 30.0, f)
}

func TestDecodeUnknownTestType(t *testing.T) {
	_, err := UnmarshalGroups([]byte(`[{"tests":[{"type":"weather","op":">"}]}]`))
	require.ErrorIs(t, err, ErrInvalidCondition)
}

func TestUnmarshalGroupsEmpty(t *testing.T) {
	groups, err := UnmarshalGroups(nil)
	require.NoError(t, err)
	assert.Equal(t, []Group{}, groups)

	groups, err = UnmarshalGroups([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, []Group{}, groups)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sampleTree(), ValidateOptions{AllowContains: true}))
	require.ErrorIs(t, Validate(sampleTree(), ValidateOptions{}), ErrInvalidCondition)

	bad := []struct {
		name  string
		group Group
	}{
		{"mode", Group{Mode: "SOME"}},
		{"metric", Group{Tests: []Test{EnvTest{Op: OpGt, Value: Number(1)}}}},
		{"operator", Group{Tests: []Test{EnvTest{Metric: "temp_f", Op: "=~", Value: Number(1)}}}},
		{"value", Group{Tests: []Test{EnvTest{Metric: "temp_f", Op: OpGt}}}},
		{"debounce", Group{Tests: []Test{OccupancyTest{Op: OpGt, Value: Number(1), DebounceSec: -1}}}},
		{"anchor", Group{Tests: []Test{TimeTest{Op: OpGt, StartAt: "soon"}}}},
		{"time contains", Group{Tests: []Test{TimeTest{Op: OpContains, StartAt: "2026-03-02T08:00:00Z"}}}},
		{"nil test", Group{Tests: []Test{nil}}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate([]Group{tc.group}, ValidateOptions{AllowContains: true})
			require.ErrorIs(t, err, ErrInvalidCondition)
		})
	}
}
