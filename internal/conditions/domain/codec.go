package conditions

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type testWire struct {
	Type        TestType `json:"type"`
	RoomName    string   `json:"roomName,omitempty"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	Op          Operator `json:"op"`
	Value       *Literal `json:"value,omitempty"`
	DebounceSec int      `json:"debounceSec,omitempty"`
	StartAt     string   `json:"startAtIso,omitempty"`
	RepeatDays  int      `json:"repeatDays,omitempty"`
}

type groupWire struct {
	Mode  Mode       `json:"mode,omitempty"`
	Tests []testWire `json:"tests"`
}

// MarshalJSON implements json.Marshaler.
func (g Group) MarshalJSON() ([]byte, error) {
	wire := groupWire{Mode: g.Mode}
	if g.Tests != nil {
		wire.Tests = make([]testWire, 0, len(g.Tests))
	}
	for _, test := range g.Tests {
		tw, err := encodeTest(test)
		if err != nil {
			return nil, err
		}
		wire.Tests = append(wire.Tests, tw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Group) UnmarshalJSON(data []byte) error {
	var wire groupWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	g.Mode = wire.Mode
	g.Tests = nil
	if wire.Tests != nil {
		g.Tests = make([]Test, 0, len(wire.Tests))
	}
	for i, tw := range wire.Tests {
		test, err := decodeTest(tw)
		if err != nil {
			return fmt.Errorf("test %d: %w", i, err)
		}
		g.Tests = append(g.Tests, test)
	}
	return nil
}

func encodeTest(test Test) (testWire, error) {
	switch t := test.(type) {
	case EnvTest:
		return testWire{
			Type:     TypeEnv,
			RoomName: t.RoomName,
			DeviceID: t.DeviceID,
			Metric:   t.Metric,
			Op:       t.Op,
			Value:    literalPtr(t.Value),
		}, nil
	case OccupancyTest:
		return testWire{
			Type:        TypeOccupancy,
			RoomName:    t.RoomName,
			Op:          t.Op,
			Value:       literalPtr(t.Value),
			DebounceSec: t.DebounceSec,
		}, nil
	case TimeTest:
		return testWire{
			Type:       TypeTime,
			Op:         t.Op,
			StartAt:    t.StartAt,
			RepeatDays: t.RepeatDays,
		}, nil
	default:
		return testWire{}, fmt.Errorf("%w: cannot encode %T", ErrInvalidCondition, test)
	}
}

func decodeTest(tw testWire) (Test, error) {
	var value Literal
	if tw.Value != nil {
		value = *tw.Value
	}
	switch tw.Type {
	case TypeEnv, "":
		return EnvTest{
			Metric:   tw.Metric,
			Op:       tw.Op,
			Value:    value,
			RoomName: tw.RoomName,
			DeviceID: tw.DeviceID,
		}, nil
	case TypeOccupancy:
		return OccupancyTest{
			Op:          tw.Op,
			Value:       value,
			DebounceSec: tw.DebounceSec,
			RoomName:    tw.RoomName,
		}, nil
	case TypeTime:
		return TimeTest{
			Op:         tw.Op,
			StartAt:    tw.StartAt,
			RepeatDays: tw.RepeatDays,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown test type %q", ErrInvalidCondition, tw.Type)
	}
}

func literalPtr(l Literal) *Literal {
	if len(l.raw) == 0 {
		return nil
	}
	return &l
}

// MarshalGroups encodes a condition tree for storage.
func MarshalGroups(groups []Group) ([]byte, error) {
	if groups == nil {
		groups = []Group{}
	}
	return json.Marshal(groups)
}

// UnmarshalGroups decodes a stored condition tree. Both the bare array and
// the {"groups": [...]} object form are accepted.
func UnmarshalGroups(data []byte) ([]Group, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Group{}, nil
	}
	var groups []Group
	if data[0] == '{' {
		var wrapped struct {
			Groups []Group `json:"groups"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		groups = wrapped.Groups
	} else if err := json.Unmarshal(data, &groups); err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []Group{}
	}
	return groups, nil
}
