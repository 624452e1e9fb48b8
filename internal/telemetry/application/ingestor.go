package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"roomwatch/internal/observability/metrics"
	telemetry "roomwatch/internal/telemetry/domain"
)

// SampleWriter stores the latest sample per entity.
type SampleWriter interface {
	Upsert(sample telemetry.Sample)
}

// ActuatorWriter stores confirmed relay states.
type ActuatorWriter interface {
	Observe(state telemetry.ActuatorState)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Ingestor validates incoming samples and writes them to the state stores.
type Ingestor struct {
	states    SampleWriter
	actuators ActuatorWriter
	directory *telemetry.Directory
	clock     Clock
	logger    *zap.Logger
}

// IngestorOption customizes the ingestor.
type IngestorOption func(*Ingestor)

// WithDirectory maps sensor devices to room names.
func WithDirectory(directory *telemetry.Directory) IngestorOption {
	return func(i *Ingestor) {
		i.directory = directory
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) IngestorOption {
	return func(i *Ingestor) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIngestor constructs an ingestor.
func NewIngestor(states SampleWriter, actuators ActuatorWriter, opts ...IngestorOption) (*Ingestor, error) {
	if states == nil {
		return nil, errors.New("telemetry ingestor: nil state store")
	}
	if actuators == nil {
		return nil, errors.New("telemetry ingestor: nil actuator store")
	}
	ingestor := &Ingestor{
		states:    states,
		actuators: actuators,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ingestor)
	}
	return ingestor, nil
}

// OnSample validates and stores one sample. tsMs <= 0 means "now"; samples
// stamped in the future are clamped to now.
// Malformed samples are dropped and reported with ErrMalformedSample.
func (i *Ingestor) OnSample(kind telemetry.Kind, entityID string, fields map[string]any, tsMs int64) error {
	if i == nil {
		return errors.New("telemetry ingestor: nil ingestor")
	}
	err := i.ingest(kind, strings.TrimSpace(entityID), fields, tsMs)
	if err != nil {
		metrics.IncSample(string(kind), metrics.ResultDropped)
		i.logger.Warn("telemetry sample dropped",
			zap.String("kind", string(kind)),
			zap.String("entity", entityID),
			zap.Error(err))
		return err
	}
	metrics.IncSample(string(kind), metrics.ResultSuccess)
	return nil
}

func (i *Ingestor) ingest(kind telemetry.Kind, entityID string, fields map[string]any, tsMs int64) error {
	if entityID == "" {
		return fmt.Errorf("%w: empty entity id", telemetry.ErrMalformedSample)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields", telemetry.ErrMalformedSample)
	}
	now := i.clock.Now().UTC()
	observedAt := now
	if tsMs > 0 {
		if at := time.UnixMilli(tsMs).UTC(); at.Before(now) {
			observedAt = at
		}
	}

	switch kind {
	case telemetry.KindSensor:
		normalized, err := normalizeFields(fields)
		if err != nil {
			return err
		}
		i.states.Upsert(telemetry.Sample{
			Kind:       telemetry.KindSensor,
			EntityID:   i.directory.EntityForDevice(entityID),
			Fields:     normalized,
			ObservedAt: observedAt,
		})
	case telemetry.KindOccupancy:
		count, ok := numberValue(fields[telemetry.MetricCount])
		if !ok || count < 0 {
			return fmt.Errorf("%w: occupancy count missing or invalid", telemetry.ErrMalformedSample)
		}
		i.states.Upsert(telemetry.Sample{
			Kind:       telemetry.KindOccupancy,
			EntityID:   entityID,
			Fields:     telemetry.Fields{telemetry.MetricCount: count},
			ObservedAt: observedAt,
		})
	case telemetry.KindActuator:
		raw, ok := fields[telemetry.FieldRelay]
		if !ok {
			raw = fields["state"]
		}
		text, _ := raw.(string)
		command, ok := telemetry.ParseCommand(text)
		if !ok {
			return fmt.Errorf("%w: relay state %v", telemetry.ErrMalformedSample, raw)
		}
		i.actuators.Observe(telemetry.ActuatorState{
			DeviceID:   entityID,
			Command:    command,
			ObservedAt: observedAt,
		})
	default:
		return fmt.Errorf("%w: unknown kind %q", telemetry.ErrMalformedSample, kind)
	}
	return nil
}

// normalizeFields converts decoded values to float64, bool, string or nil.
// Non-finite numbers and nested or otherwise unsupported values are skipped.
func normalizeFields(fields map[string]any) (telemetry.Fields, error) {
	out := make(telemetry.Fields, len(fields))
	for key, value := range fields {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case nil:
			out[key] = nil
		case bool:
			out[key] = v
		case string:
			out[key] = v
		default:
			n, ok := numberValue(v)
			if !ok {
				continue
			}
			out[key] = n
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable fields", telemetry.ErrMalformedSample)
	}
	return out, nil
}

func numberValue(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case uint:
		n = float64(v)
	case uint32:
		n = float64(v)
	case uint64:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
