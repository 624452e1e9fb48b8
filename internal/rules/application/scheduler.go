package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	conditions "roomwatch/internal/conditions/domain"
	"roomwatch/internal/observability/metrics"
	"roomwatch/internal/rules/application/events"
	rules "roomwatch/internal/rules/domain"
	telemetry "roomwatch/internal/telemetry/domain"
)

// DefaultTickInterval is the rule evaluation period.
const DefaultTickInterval = 3 * time.Second

// Publisher hands side effects to the async dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// RuleSource provides rule definitions in evaluation order.
type RuleSource interface {
	Rules() []rules.Rule
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Evaluated int
	Fired     int
	Applied   int
	Skipped   int
}

// Scheduler evaluates rules on a fixed tick and emits RuleFired events.
// A plug action is skipped while the relay already reports the wanted state.
type Scheduler struct {
	source    RuleSource
	state     telemetry.StateReader
	actuators telemetry.ActuatorReader
	publisher Publisher
	directory *telemetry.Directory
	clock     Clock
	location  *time.Location
	interval  time.Duration
	logger    *zap.Logger

	mu         sync.Mutex
	lastFired  map[string]time.Time
	fireCounts map[string]int
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithDirectory resolves device references in tests.
func WithDirectory(directory *telemetry.Directory) SchedulerOption {
	return func(s *Scheduler) {
		s.directory = directory
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

// NewScheduler constructs a rule scheduler.
func NewScheduler(source RuleSource, state telemetry.StateReader, actuators telemetry.ActuatorReader, publisher Publisher, opts ...SchedulerOption) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("rules scheduler: nil rule source")
	}
	if state == nil {
		return nil, errors.New("rules scheduler: nil state reader")
	}
	if actuators == nil {
		return nil, errors.New("rules scheduler: nil actuator reader")
	}
	if publisher == nil {
		return nil, errors.New("rules scheduler: nil publisher")
	}
	s := &Scheduler{
		source:     source,
		state:      state,
		actuators:  actuators,
		publisher:  publisher,
		clock:      systemClock{},
		location:   time.Local,
		interval:   DefaultTickInterval,
		logger:     zap.NewNop(),
		lastFired:  make(map[string]time.Time),
		fireCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
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

// Tick evaluates every enabled rule out of cooldown, in priority order.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	start := time.Now()
	defer func() { metrics.ObserveTick("rules", time.Since(start)) }()

	var result TickResult
	for _, rule := range s.source.Rules() {
		if !rule.Enabled {
			continue
		}
		if last, ok := s.lastFire(rule); ok && now.Sub(last) < rule.Cooldown() {
			continue
		}
		result.Evaluated++
		env := conditions.Env{
			State:     s.state,
			Directory: s.directory,
			Now:       now,
			Location:  s.location,
		}
		if !conditions.Evaluate(rule.Conditions, env) {
			continue
		}

		chosen, skipped := s.chooseActions(rule)
		result.Skipped += skipped
		if len(chosen) == 0 {
			continue
		}
		s.fire(ctx, rule, chosen, now)
		result.Fired++
		result.Applied += len(chosen)
	}
	return result
}

// chooseActions drops plug actions whose relay already reports the command.
// An unknown relay state does not count as a match.
func (s *Scheduler) chooseActions(rule rules.Rule) (rules.ActionList, int) {
	chosen := make(rules.ActionList, 0, len(rule.Actions))
	skipped := 0
	for _, action := range rule.Actions {
		switch a := action.(type) {
		case rules.PlugAction:
			cmd, ok := telemetry.ParseCommand(string(a.Command))
			if !ok || a.DeviceID == "" {
				skipped++
				continue
			}
			if current, known := s.actuators.Actuator(a.DeviceID); known && current.Command == cmd {
				metrics.IncActuatorCommand(metrics.ResultSkipped)
				skipped++
				continue
			}
			chosen = append(chosen, rules.PlugAction{DeviceID: a.DeviceID, Command: cmd})
		case rules.TopicAction:
			chosen = append(chosen, a)
		default:
			skipped++
		}
	}
	return chosen, skipped
}

func (s *Scheduler) fire(ctx context.Context, rule rules.Rule, chosen rules.ActionList, now time.Time) {
	applied := make([]rules.AppliedAction, 0, len(chosen))
	for _, action := range chosen {
		applied = append(applied, rules.Applied(action))
	}

	s.mu.Lock()
	s.lastFired[rule.ID] = now
	count := s.fireCounts[rule.ID]
	if rule.FireCount > count {
		count = rule.FireCount
	}
	count++
	s.fireCounts[rule.ID] = count
	s.mu.Unlock()

	metrics.IncRuleFired()
	s.logger.Info("rule fired",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name),
		zap.Int("actions", len(chosen)))

	fired := events.RuleFired{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Actions:  chosen,
		Log: rules.FireLog{
			At:      now,
			Summary: fmt.Sprintf("%s fired; actions: %d", rule.Name, len(chosen)),
			Actions: applied,
		},
		FireCount:  count,
		OccurredAt: now,
	}
	if err := s.publisher.Publish(ctx, fired); err != nil {
		s.logger.Warn("rule fired event not dispatched",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}
}

// lastFire is the later of the in-memory and stored fire times.
func (s *Scheduler) lastFire(rule rules.Rule) (time.Time, bool) {
	s.mu.Lock()
	last, ok := s.lastFired[rule.ID]
	s.mu.Unlock()
	if rule.LastFiredAt != nil && (!ok || rule.LastFiredAt.After(last)) {
		return *rule.LastFiredAt, true
	}
	return last, ok
}

// Forget drops in-memory fire bookkeeping for a rule.
func (s *Scheduler) Forget(ruleID string) {
	s.mu.Lock()
	delete(s.lastFired, ruleID)
	delete(s.fireCounts, ruleID)
	s.mu.Unlock()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
