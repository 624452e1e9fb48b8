package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomwatch/internal/alerts/application/events"
	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
	"roomwatch/internal/observability/metrics"
	telemetry "roomwatch/internal/telemetry/domain"
)

// DefaultTickInterval is the alert evaluation period.
const DefaultTickInterval = 2 * time.Second

// Publisher hands side effects to the async dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// AlertSource provides the current alert definitions.
type AlertSource interface {
	Alerts() []alerts.Alert
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// BreachCheckpoint persists cooldown bookkeeping across restarts.
type BreachCheckpoint interface {
	Save(ctx context.Context, states map[alerts.BreachKey]alerts.BreachState) error
	Load(ctx context.Context) (map[alerts.BreachKey]time.Time, error)
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Evaluated int
	Fired     int
}

// Scheduler evaluates alerts on a fixed tick and emits AlertFired events.
// Evaluation is synchronous; persistence and notification happen in event handlers.
type Scheduler struct {
	source     AlertSource
	state      telemetry.StateReader
	publisher  Publisher
	tracker    *Tracker
	directory  *telemetry.Directory
	checkpoint BreachCheckpoint
	clock      Clock
	location   *time.Location
	interval   time.Duration
	logger     *zap.Logger
	newID      func() string

	mu         sync.Mutex
	fireCounts map[string]int
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithTracker shares a tracker with the alert service.
func WithTracker(tracker *Tracker) SchedulerOption {
	return func(s *Scheduler) {
		if tracker != nil {
			s.tracker = tracker
		}
	}
}

// WithDirectory resolves device references in tests.
func WithDirectory(directory *telemetry.Directory) SchedulerOption {
	return func(s *Scheduler) {
		s.directory = directory
	}
}

// WithCheckpoint enables breach checkpointing.
func WithCheckpoint(checkpoint BreachCheckpoint) SchedulerOption {
	return func(s *Scheduler) {
		s.checkpoint = checkpoint
	}
}

// WithSchedulerClock assigns a clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLocation sets the zone used by time-of-day tests.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithInterval overrides the tick interval.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSchedulerLogger assigns a logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs an alert scheduler.
func NewScheduler(source AlertSource, state telemetry.StateReader, publisher Publisher, opts ...SchedulerOption) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("alerts scheduler: nil alert source")
	}
	if state == nil {
		return nil, errors.New("alerts scheduler: nil state reader")
	}
	if publisher == nil {
		return nil, errors.New("alerts scheduler: nil publisher")
	}
	s := &Scheduler{
		source:     source,
		state:      state,
		publisher:  publisher,
		tracker:    NewTracker(),
		clock:      systemClock{},
		location:   time.Local,
		interval:   DefaultTickInterval,
		logger:     zap.NewNop(),
		newID:      func() string { return "ev_" + uuid.NewString() },
		fireCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tracker exposes the breach tracker.
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// Start runs the tick loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick evaluates every enabled alert for every entity in its scope.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	start := time.Now()
	defer func() { metrics.ObserveTick("alerts", time.Since(start)) }()

	var result TickResult
	entities := s.state.Entities()
	for _, alert := range s.source.Alerts() {
		if !alert.Enabled || len(alert.Conditions) == 0 {
			continue
		}
		for _, entity := range scopeEntities(alert.Scope, entities) {
			result.Evaluated++
			env := conditions.Env{
				State:     s.state,
				Directory: s.directory,
				Entity:    entity,
				Now:       now,
				Location:  s.location,
			}
			satisfied := conditions.Evaluate(alert.Conditions, env)
			key := alerts.BreachKey{AlertID: alert.ID, Entity: entity}
			if !s.tracker.Observe(key, satisfied, now, alert.Hold(), alert.Cooldown()) {
				continue
			}
			s.fire(ctx, alert, entity, now)
			result.Fired++
		}
	}
	return result
}

func (s *Scheduler) fire(ctx context.Context, alert alerts.Alert, entity string, now time.Time) {
	fields, count := s.snapshot(entity)
	values := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if v != nil {
			values[k] = v
		}
	}
	if count != nil {
		values[telemetry.MetricCount] = *count
	}

	event := alerts.Event{
		ID:       s.newID(),
		AlertID:  alert.ID,
		Name:     alert.Name,
		Severity: alert.Severity,
		Entity:   entity,
		Message:  BuildMessage(alert.Name, entity, fields, count),
		Values:   values,
		FiredAt:  now,
	}
	metrics.IncAlertFired(string(alert.Severity))
	s.logger.Info("alert fired",
		zap.String("alert_id", alert.ID),
		zap.String("entity", entity),
		zap.String("severity", string(alert.Severity)))

	fired := events.AlertFired{
		AlertID:    alert.ID,
		Event:      event,
		FireCount:  s.nextFireCount(alert),
		OccurredAt: now,
	}
	if err := s.publisher.Publish(ctx, fired); err != nil {
		s.logger.Warn("alert fired event not dispatched",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

func (s *Scheduler) snapshot(entity string) (telemetry.Fields, *float64) {
	var fields telemetry.Fields
	if sample, ok := s.state.Get(telemetry.KindSensor, entity); ok {
		fields = sample.Fields
	}
	var count *float64
	if sample, ok := s.state.Get(telemetry.KindOccupancy, entity); ok {
		if n, ok := sample.Fields.Number(telemetry.MetricCount); ok {
			count = &n
		}
	}
	return fields, count
}

func (s *Scheduler) nextFireCount(alert alerts.Alert) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.fireCounts[alert.ID]
	if alert.FireCount > count {
		count = alert.FireCount
	}
	count++
	s.fireCounts[alert.ID] = count
	return count
}

// SaveCheckpoint writes the tracker state to the checkpoint store.
func (s *Scheduler) SaveCheckpoint(ctx context.Context) error {
	if s.checkpoint == nil {
		return nil
	}
	return s.checkpoint.Save(ctx, s.tracker.Snapshot())
}

// RestoreCheckpoint seeds cooldowns from the checkpoint store.
func (s *Scheduler) RestoreCheckpoint(ctx context.Context) error {
	if s.checkpoint == nil {
		return nil
	}
	lastFires, err := s.checkpoint.Load(ctx)
	if err != nil {
		return err
	}
	s.tracker.RestoreLastFires(lastFires)
	s.logger.Info("breach checkpoint restored", zap.Int("entries", len(lastFires)))
	return nil
}

// RunCheckpoints saves the tracker periodically until ctx is done.
func (s *Scheduler) RunCheckpoints(ctx context.Context, every time.Duration) {
	if s.checkpoint == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SaveCheckpoint(ctx); err != nil {
				s.logger.Warn("breach checkpoint save failed", zap.Error(err))
			}
		}
	}
}

func scopeEntities(scope alerts.Scope, known []string) []string {
	if scope.Mode == alerts.ScopeRoom {
		if scope.Room == "" {
			return nil
		}
		return []string{scope.Room}
	}
	return known
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
