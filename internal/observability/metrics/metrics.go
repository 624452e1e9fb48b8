package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "roomwatch_"

	resultSuccess = "success"
	resultError   = "error"
	resultDropped = "dropped"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	samplesTotal *prometheus.CounterVec

	tickLatency *prometheus.HistogramVec

	alertFiredTotal *prometheus.CounterVec
	ruleFiredTotal  prometheus.Counter

	actuatorCommands *prometheus.CounterVec

	sideEffectTotal *prometheus.CounterVec
	dispatchQueue   prometheus.Gauge

	openAlertEvents prometheus.Gauge
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		samplesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Total ingested telemetry samples by kind and result",
			},
			[]string{"kind", "result"},
		)

		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Scheduler tick latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"scheduler"},
		)

		alertFiredTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fired_total",
				Help: "Total fired alert events by severity",
			},
			[]string{"severity"},
		)
		ruleFiredTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rules_fired_total",
				Help: "Total rule fires with at least one applied action",
			},
		)

		actuatorCommands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actuator_commands_total",
				Help: "Total actuator commands by result",
			},
			[]string{"result"},
		)

		sideEffectTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "side_effects_total",
				Help: "Total asynchronous side effects by task and result",
			},
			[]string{"task", "result"},
		)
		dispatchQueue = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "dispatch_queue_depth",
				Help: "Side effects waiting in the dispatch queues",
			},
		)

		openAlertEvents = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alert_events_open",
				Help: "Unacknowledged alert events",
			},
		)

		prometheus.MustRegister(
			samplesTotal,
			tickLatency,
			alertFiredTotal,
			ruleFiredTotal,
			actuatorCommands,
			sideEffectTotal,
			dispatchQueue,
			openAlertEvents,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncSample counts an ingested sample.
func IncSample(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if samplesTotal != nil {
		samplesTotal.WithLabelValues(kind, result).Inc()
	}
}

// ObserveTick records a scheduler tick duration.
func ObserveTick(scheduler string, duration time.Duration) {
	if scheduler == "" {
		scheduler = "unknown"
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(scheduler).Observe(duration.Seconds())
	}
}

// IncAlertFired counts a fired alert event.
func IncAlertFired(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertFiredTotal != nil {
		alertFiredTotal.WithLabelValues(severity).Inc()
	}
}

// IncRuleFired counts a rule fire.
func IncRuleFired() {
	if ruleFiredTotal != nil {
		ruleFiredTotal.Inc()
	}
}

// IncActuatorCommand counts an actuator command by result.
func IncActuatorCommand(result string) {
	if result == "" {
		result = "unknown"
	}
	if actuatorCommands != nil {
		actuatorCommands.WithLabelValues(result).Inc()
	}
}

// IncSideEffect counts an asynchronous side effect by task and result.
func IncSideEffect(task, result string) {
	if task == "" {
		task = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sideEffectTotal != nil {
		sideEffectTotal.WithLabelValues(task, result).Inc()
	}
}

// AddDispatchQueue adjusts the dispatch queue depth gauge.
func AddDispatchQueue(delta int) {
	if dispatchQueue != nil {
		dispatchQueue.Add(float64(delta))
	}
}

// SetOpenAlertEvents sets the unacknowledged event gauge.
func SetOpenAlertEvents(count int) {
	if count < 0 {
		count = 0
	}
	if openAlertEvents != nil {
		openAlertEvents.Set(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = resultDropped
	ResultSkipped = resultSkipped
)
