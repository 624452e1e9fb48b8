package telemetry

import (
	"errors"
	"math"
	"strings"
	"time"
)

// ErrMalformedSample is returned when an incoming sample cannot be stored.
var ErrMalformedSample = errors.New("telemetry: malformed sample")

// Kind identifies the stream a sample belongs to.
type Kind string

const (
	KindSensor    Kind = "sensor"
	KindOccupancy Kind = "occupancy"
	KindActuator  Kind = "actuator"
)

// ParseKind normalizes a kind string.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindSensor:
		return KindSensor, true
	case KindOccupancy:
		return KindOccupancy, true
	case KindActuator:
		return KindActuator, true
	default:
		return "", false
	}
}

// Known metric names.
const (
	MetricTempF   = "temp_f"
	MetricRH      = "rh_pct"
	MetricTVOC    = "tvoc_ppb"
	MetricECO2    = "eco2_ppm"
	MetricLightOn = "light_on"
	MetricCount   = "count"
	FieldRelay    = "relay"
)

// Fields maps metric names to values. A value is float64, bool, string or nil.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Number returns the numeric value of a metric. Booleans count as 1/0.
func (f Fields) Number(metric string) (float64, bool) {
	v, ok := f[metric]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Sample is the latest known reading for one entity of one kind.
type Sample struct {
	Kind       Kind
	EntityID   string
	Fields     Fields
	ObservedAt time.Time
}

// Value returns a non-nil field value.
func (s Sample) Value(metric string) (any, bool) {
	v, ok := s.Fields[metric]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Age reports how long ago the sample was observed.
func (s Sample) Age(now time.Time) time.Duration {
	if s.ObservedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ObservedAt)
}

// StateReader exposes the latest samples.
type StateReader interface {
	Get(kind Kind, entityID string) (Sample, bool)
	Entities() []string
}

// TimestampFromEpoch accepts milliseconds or seconds.
func TimestampFromEpoch(value int64) (time.Time, bool) {
	if value <= 0 {
		return time.Time{}, false
	}
	if value >= 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), true
	}
	return time.Unix(value, 0).UTC(), true
}
