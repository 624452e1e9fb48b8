package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"roomwatch/internal/eventing"
	"roomwatch/internal/observability/metrics"
	"roomwatch/internal/rules/application/events"
	rules "roomwatch/internal/rules/domain"
	telemetry "roomwatch/internal/telemetry/domain"
)

// CommandPublisher sends actuator commands to the broker.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, deviceID string, cmd telemetry.Command) error
	PublishTopic(ctx context.Context, topic, payload string) error
}

// FireStore is the persistence used by fire side effects.
type FireStore interface {
	UpdateMetadata(ctx context.Context, id string, meta rules.Metadata) error
	AppendFireLog(ctx context.Context, ruleID string, log rules.FireLog) error
}

// ActionRunner performs the side effects of rule fires. Commands are sent in
// rule order; a failed command is logged and the rest still go out.
type ActionRunner struct {
	commands CommandPublisher
	store    FireStore
	logger   *zap.Logger
}

// NewActionRunner constructs the rule side-effect handler.
func NewActionRunner(commands CommandPublisher, store FireStore, logger *zap.Logger) (*ActionRunner, error) {
	if commands == nil {
		return nil, errors.New("rules runner: nil command publisher")
	}
	if store == nil {
		return nil, errors.New("rules runner: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionRunner{commands: commands, store: store, logger: logger}, nil
}

// Register subscribes the runner on the bus.
func (r *ActionRunner) Register(bus eventing.EventBus) {
	bus.Subscribe(eventing.EventTypeOf[events.RuleFired](), eventing.Handle(r.HandleRuleFired))
}

// HandleRuleFired publishes the chosen commands, then records the fire.
func (r *ActionRunner) HandleRuleFired(ctx context.Context, evt events.RuleFired) error {
	var errs []error
	for _, action := range evt.Actions {
		if err := r.apply(ctx, action); err != nil {
			metrics.IncActuatorCommand(metrics.ResultError)
			r.logger.Warn("rule action failed",
				zap.String("rule_id", evt.RuleID),
				zap.String("type", string(action.Type())),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.IncActuatorCommand(metrics.ResultSuccess)
	}

	meta := rules.Metadata{LastFiredAt: evt.OccurredAt, FireCount: evt.FireCount}
	if err := r.store.UpdateMetadata(ctx, evt.RuleID, meta); err != nil {
		errs = append(errs, fmt.Errorf("update metadata: %w", err))
		r.fail("update_metadata", evt.RuleID, err)
	} else {
		metrics.IncSideEffect("update_metadata", metrics.ResultSuccess)
	}
	if err := r.store.AppendFireLog(ctx, evt.RuleID, evt.Log); err != nil {
		errs = append(errs, fmt.Errorf("append fire log: %w", err))
		r.fail("append_fire_log", evt.RuleID, err)
	} else {
		metrics.IncSideEffect("append_fire_log", metrics.ResultSuccess)
	}
	return errors.Join(errs...)
}

func (r *ActionRunner) apply(ctx context.Context, action rules.Action) error {
	switch a := action.(type) {
	case rules.PlugAction:
		if err := r.commands.PublishCommand(ctx, a.DeviceID, a.Command); err != nil {
			return fmt.Errorf("plug %s %s: %w", a.DeviceID, a.Command, err)
		}
	case rules.TopicAction:
		if err := r.commands.PublishTopic(ctx, a.Topic, a.Payload); err != nil {
			return fmt.Errorf("topic %s: %w", a.Topic, err)
		}
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
	return nil
}

func (r *ActionRunner) fail(task, ruleID string, err error) {
	metrics.IncSideEffect(task, metrics.ResultError)
	r.logger.Error("rule side effect failed",
		zap.String("task", task),
		zap.String("rule_id", ruleID),
		zap.Error(err))
}
