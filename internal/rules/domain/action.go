package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	telemetry "roomwatch/internal/telemetry/domain"
)

// ActionType tags an action variant.
type ActionType string

const (
	ActionPlug  ActionType = "plug"
	ActionTopic ActionType = "topic"
)

// Action is a side effect a rule performs when it fires.
// Implementations are PlugAction and TopicAction.
type Action interface {
	Type() ActionType
	validate() error
}

// PlugAction switches a relay on or off.
type PlugAction struct {
	DeviceID string
	Command  telemetry.Command
}

// Type implements Action.
func (PlugAction) Type() ActionType { return ActionPlug }

func (a PlugAction) validate() error {
	if strings.TrimSpace(a.DeviceID) == "" {
		return fmt.Errorf("plug action needs a deviceId")
	}
	if _, ok := telemetry.ParseCommand(string(a.Command)); !ok {
		return fmt.Errorf("plug action command must be ON or OFF, got %q", a.Command)
	}
	return nil
}

// TopicAction publishes a raw payload to a broker topic.
type TopicAction struct {
	Topic   string
	Payload string
}

// Type implements Action.
func (TopicAction) Type() ActionType { return ActionTopic }

func (a TopicAction) validate() error {
	if strings.TrimSpace(a.Topic) == "" {
		return fmt.Errorf("topic action needs a topic")
	}
	return nil
}

type actionWire struct {
	Type     ActionType `json:"type"`
	DeviceID string     `json:"deviceId,omitempty"`
	Command  string     `json:"command,omitempty"`
	Topic    string     `json:"topic,omitempty"`
	Payload  *string    `json:"payload,omitempty"`
}

// ActionList is an ordered list of actions with a tagged JSON form.
type ActionList []Action

// MarshalJSON implements json.Marshaler.
func (l ActionList) MarshalJSON() ([]byte, error) {
	wire := make([]actionWire, 0, len(l))
	for _, action := range l {
		switch a := action.(type) {
		case PlugAction:
			wire = append(wire, actionWire{Type: ActionPlug, DeviceID: a.DeviceID, Command: string(a.Command)})
		case TopicAction:
			payload := a.Payload
			wire = append(wire, actionWire{Type: ActionTopic, Topic: a.Topic, Payload: &payload})
		default:
			return nil, fmt.Errorf("%w: cannot encode action %T", ErrInvalidDefinition, action)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler. Plug commands are upper-cased.
func (l *ActionList) UnmarshalJSON(data []byte) error {
	var wire []actionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(ActionList, 0, len(wire))
	for i, w := range wire {
		switch w.Type {
		case ActionPlug:
			out = append(out, PlugAction{
				DeviceID: strings.TrimSpace(w.DeviceID),
				Command:  telemetry.Command(strings.ToUpper(strings.TrimSpace(w.Command))),
			})
		case ActionTopic:
			var payload string
			if w.Payload != nil {
				payload = *w.Payload
			}
			out = append(out, TopicAction{Topic: strings.TrimSpace(w.Topic), Payload: payload})
		default:
			return fmt.Errorf("%w: action %d: unknown type %q", ErrInvalidDefinition, i, w.Type)
		}
	}
	*l = out
	return nil
}

// AppliedAction records an action a fire actually performed.
type AppliedAction struct {
	Type     ActionType        `json:"type"`
	DeviceID string            `json:"deviceId,omitempty"`
	Command  telemetry.Command `json:"command,omitempty"`
	Topic    string            `json:"topic,omitempty"`
}

// Applied converts an action to its fire-log record.
func Applied(action Action) AppliedAction {
	switch a := action.(type) {
	case PlugAction:
		return AppliedAction{Type: ActionPlug, DeviceID: a.DeviceID, Command: a.Command}
	case TopicAction:
		return AppliedAction{Type: ActionTopic, Topic: a.Topic}
	default:
		return AppliedAction{Type: action.Type()}
	}
}
