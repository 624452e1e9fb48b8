package conditions

import (
	"time"

	telemetry "roomwatch/internal/telemetry/domain"
)

// Env is the read-only context a condition tree is evaluated against.
type Env struct {
	State     telemetry.StateReader
	Directory *telemetry.Directory
	// Entity is the default entity for tests that do not name one.
	Entity   string
	Now      time.Time
	Location *time.Location
}

// Evaluate returns true when any group matches. A tree without groups never matches.
func Evaluate(groups []Group, env Env) bool {
	for _, group := range groups {
		if evaluateGroup(group, env) {
			return true
		}
	}
	return false
}

func evaluateGroup(group Group, env Env) bool {
	if len(group.Tests) == 0 {
		return false
	}
	if group.Mode == ModeAny {
		for _, test := range group.Tests {
			if EvaluateTest(test, env) {
				return true
			}
		}
		return false
	}
	for _, test := range group.Tests {
		if !EvaluateTest(test, env) {
			return false
		}
	}
	return true
}

// EvaluateTest evaluates one test. Missing state makes the test false.
func EvaluateTest(test Test, env Env) bool {
	switch t := test.(type) {
	case EnvTest:
		return evaluateEnv(t, env)
	case OccupancyTest:
		return evaluateOccupancy(t, env)
	case TimeTest:
		return evaluateTime(t, env.Now, env.Location)
	default:
		return false
	}
}

func evaluateEnv(t EnvTest, env Env) bool {
	entity := env.Entity
	switch {
	case t.DeviceID != "":
		entity = env.Directory.EntityForDevice(t.DeviceID)
	case t.RoomName != "":
		entity = t.RoomName
	}
	if entity == "" || env.State == nil {
		return false
	}
	sample, ok := env.State.Get(telemetry.KindSensor, entity)
	if !ok {
		return false
	}
	actual, ok := sample.Value(t.Metric)
	if !ok {
		return false
	}
	return Compare(actual, t.Op, t.Value)
}

func evaluateOccupancy(t OccupancyTest, env Env) bool {
	entity := env.Entity
	if t.RoomName != "" {
		entity = t.RoomName
	}
	if entity == "" || env.State == nil {
		return false
	}
	sample, ok := env.State.Get(telemetry.KindOccupancy, entity)
	if !ok {
		return false
	}
	if t.DebounceSec > 0 && sample.Age(env.Now) < time.Duration(t.DebounceSec)*time.Second {
		return false
	}
	actual, ok := sample.Value(telemetry.MetricCount)
	if !ok {
		return false
	}
	return Compare(actual, t.Op, t.Value)
}
