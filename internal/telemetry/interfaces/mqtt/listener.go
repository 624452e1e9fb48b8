package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"roomwatch/internal/mqtt"
	telemetry "roomwatch/internal/telemetry/domain"
)

// ErrUnknownTopic is returned for topics the listener does not decode.
var ErrUnknownTopic = errors.New("telemetry mqtt: unknown topic")

const (
	suffixTelemetry  = "telemetry"
	suffixCount      = "count"
	suffixRelayState = "switch/relay/state"

	// Timestamps before this or more than a week ahead are replaced by "now".
	minTimestampMs = 1262304000000 // 2010-01-01
	maxFutureSkew  = 7 * 24 * time.Hour
)

var numericMetrics = []string{
	telemetry.MetricTempF,
	telemetry.MetricRH,
	telemetry.MetricTVOC,
	telemetry.MetricECO2,
}

// SampleSink accepts normalized samples.
type SampleSink interface {
	OnSample(kind telemetry.Kind, entityID string, fields map[string]any, tsMs int64) error
}

// Subscriber registers topic handlers on a broker connection.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Listener decodes the site's telemetry topics into samples:
//
//	dt/<site>/<device>/telemetry            JSON sensor snapshot
//	dt/<site>/<sensor>/count                JSON {room, count, t}
//	dt/<site>/<device>/switch/relay/state   ON|OFF
type Listener struct {
	sink   SampleSink
	prefix string
	clock  Clock
	logger *zap.Logger
}

// ListenerOption customizes the listener.
type ListenerOption func(*Listener)

// WithClock assigns a clock.
func WithClock(clock Clock) ListenerOption {
	return func(l *Listener) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener constructs a listener for one site.
func NewListener(sink SampleSink, site string, opts ...ListenerOption) (*Listener, error) {
	if sink == nil {
		return nil, errors.New("telemetry mqtt: nil sink")
	}
	site = strings.Trim(strings.TrimSpace(site), "/")
	if site == "" {
		return nil, errors.New("telemetry mqtt: empty site id")
	}
	l := &Listener{
		sink:   sink,
		prefix: "dt/" + site + "/",
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Topics returns the subscription filters.
func (l *Listener) Topics() []string {
	return []string{
		l.prefix + "+/" + suffixTelemetry,
		l.prefix + "+/" + suffixCount,
		l.prefix + "+/" + suffixRelayState,
	}
}

// Register subscribes every telemetry topic.
func (l *Listener) Register(sub Subscriber) error {
	for _, topic := range l.Topics() {
		if err := sub.Subscribe(topic, 1, l.HandleMessage); err != nil {
			return err
		}
	}
	l.logger.Info("telemetry topics subscribed", zap.Strings("topics", l.Topics()))
	return nil
}

// HandleMessage decodes one message and forwards it to the sink.
func (l *Listener) HandleMessage(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, l.prefix)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	device, suffix, ok := strings.Cut(rest, "/")
	if !ok || device == "" {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch suffix {
	case suffixTelemetry:
		return l.handleSensor(device, payload)
	case suffixCount:
		return l.handleCount(payload)
	case suffixRelayState:
		state := strings.TrimSpace(string(payload))
		return l.sink.OnSample(telemetry.KindActuator, device, map[string]any{telemetry.FieldRelay: state}, 0)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func (l *Listener) handleSensor(device string, payload []byte) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %v", telemetry.ErrMalformedSample, err)
	}
	ts := l.timestamp(firstPresent(body, "ts_ms", "ts"))
	delete(body, "ts_ms")
	delete(body, "ts")
	for _, metric := range numericMetrics {
		if raw, ok := body[metric].(string); ok {
			if n, ok := toFloat(raw); ok {
				body[metric] = n
			}
		}
	}
	if raw, ok := body[telemetry.MetricLightOn]; ok && raw != nil {
		body[telemetry.MetricLightOn] = truthy(raw)
	}
	return l.sink.OnSample(telemetry.KindSensor, device, body, ts)
}

func (l *Listener) handleCount(payload []byte) error {
	var body struct {
		Room  string `json:"room"`
		Count any    `json:"count"`
		T     any    `json:"t"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %v", telemetry.ErrMalformedSample, err)
	}
	count, ok := toFloat(body.Count)
	if !ok {
		return fmt.Errorf("%w: occupancy count %v", telemetry.ErrMalformedSample, body.Count)
	}
	return l.sink.OnSample(telemetry.KindOccupancy, body.Room, map[string]any{telemetry.MetricCount: count}, l.timestamp(body.T))
}

// timestamp accepts seconds or milliseconds. Missing or implausible values
// return 0 so the sink stamps the sample with its own clock.
func (l *Listener) timestamp(raw any) int64 {
	n, ok := toFloat(raw)
	if !ok || n <= 0 {
		return 0
	}
	ms := int64(n)
	if n < 1e12 {
		ms = int64(n * 1000)
	}
	if ms < minTimestampMs || ms > l.clock.Now().Add(maxFutureSkew).UnixMilli() {
		return 0
	}
	return ms
}

func firstPresent(body map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := body[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
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

func truthy(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0" && !strings.EqualFold(v, "false")
	default:
		return true
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
