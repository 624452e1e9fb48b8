package conditions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCondition is returned when a condition tree fails validation.
var ErrInvalidCondition = errors.New("conditions: invalid condition")

// TestType is the wire tag of a condition test.
type TestType string

const (
	TypeEnv       TestType = "env"
	TypeOccupancy TestType = "occ"
	TypeTime      TestType = "time"
)

// Test is a single predicate. The set of implementations is closed:
// EnvTest, OccupancyTest and TimeTest.
type Test interface {
	Type() TestType
	isTest()
}

// EnvTest compares an environmental metric of a room or device.
type EnvTest struct {
	Metric   string
	Op       Operator
	Value    Literal
	RoomName string
	DeviceID string
}

// OccupancyTest compares the people count of a room. The test is false while
// the occupancy sample is younger than DebounceSec.
type OccupancyTest struct {
	Op          Operator
	Value       Literal
	DebounceSec int
	RoomName    string
}

// TimeTest compares the local wall clock with the anchor's time of day on
// every RepeatDays-th day from the anchor date.
type TimeTest struct {
	Op         Operator
	StartAt    string
	RepeatDays int
}

func (EnvTest) Type() TestType       { return TypeEnv }
func (OccupancyTest) Type() TestType { return TypeOccupancy }
func (TimeTest) Type() TestType      { return TypeTime }

func (EnvTest) isTest()       {}
func (OccupancyTest) isTest() {}
func (TimeTest) isTest()      {}

// Mode is the aggregation within a group.
type Mode string

const (
	ModeAll Mode = "ALL"
	ModeAny Mode = "ANY"
)

// Group is an ordered list of tests, AND-ed by default.
type Group struct {
	Mode  Mode
	Tests []Test
}

// Anchor parses the StartAt timestamp.
func (t TimeTest) Anchor() (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(t.StartAt))
}

// ValidateOptions tunes validation for a definition family.
type ValidateOptions struct {
	AllowContains bool
}

// Validate checks a condition tree. Empty groups are allowed; they never match.
func Validate(groups []Group, opts ValidateOptions) error {
	for gi, group := range groups {
		switch group.Mode {
		case "", ModeAll, ModeAny:
		default:
			return fmt.Errorf("%w: group %d: unknown mode %q", ErrInvalidCondition, gi, group.Mode)
		}
		for ti, test := range group.Tests {
			if err := validateTest(test, opts); err != nil {
				return fmt.Errorf("%w: group %d test %d: %v", ErrInvalidCondition, gi, ti, err)
			}
		}
	}
	return nil
}

func validateTest(test Test, opts ValidateOptions) error {
	switch t := test.(type) {
	case EnvTest:
		if strings.TrimSpace(t.Metric) == "" {
			return errors.New("metric required")
		}
		return validateOp(t.Op, t.Value, opts)
	case OccupancyTest:
		if t.DebounceSec < 0 {
			return errors.New("debounceSec must be >= 0")
		}
		return validateOp(t.Op, t.Value, opts)
	case TimeTest:
		if t.Op == OpContains || !t.Op.Valid() {
			return fmt.Errorf("unsupported time operator %q", t.Op)
		}
		if t.RepeatDays < 0 {
			return errors.New("repeatDays must be >= 0")
		}
		if _, err := t.Anchor(); err != nil {
			return fmt.Errorf("startAtIso: %v", err)
		}
		return nil
	case nil:
		return errors.New("nil test")
	default:
		return fmt.Errorf("unknown test type %T", test)
	}
}

func validateOp(op Operator, value Literal, opts ValidateOptions) error {
	if !op.Valid() {
		return fmt.Errorf("unknown operator %q", op)
	}
	if op == OpContains && !opts.AllowContains {
		return errors.New("operator contains is not allowed here")
	}
	if value.IsZero() {
		return errors.New("value required")
	}
	return nil
}
