package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	telemetry "roomwatch/internal/telemetry/domain"
)

const commandQoS = 1

// Broker publishes raw messages.
type Broker interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// CommandPublisher sends rule actions to the broker. Relay commands go to
// <device>/switch/relay/command; nothing here touches the actuator store,
// the device confirms on its state topic.
type CommandPublisher struct {
	broker Broker
}

// NewCommandPublisher constructs a publisher.
func NewCommandPublisher(broker Broker) (*CommandPublisher, error) {
	if broker == nil {
		return nil, errors.New("rules mqtt: nil broker")
	}
	return &CommandPublisher{broker: broker}, nil
}

// CommandTopic returns the relay command topic of a device.
func CommandTopic(deviceID string) string {
	return deviceID + "/switch/relay/command"
}

// PublishCommand sends ON or OFF to a relay.
func (p *CommandPublisher) PublishCommand(ctx context.Context, deviceID string, cmd telemetry.Command) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("rules mqtt: empty device id")
	}
	parsed, ok := telemetry.ParseCommand(string(cmd))
	if !ok {
		return fmt.Errorf("rules mqtt: invalid command %q", cmd)
	}
	return p.broker.Publish(ctx, CommandTopic(deviceID), commandQoS, false, []byte(parsed))
}

// PublishTopic sends a raw payload.
func (p *CommandPublisher) PublishTopic(ctx context.Context, topic, payload string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("rules mqtt: empty topic")
	}
	return p.broker.Publish(ctx, topic, commandQoS, false, []byte(payload))
}
