package telemetry

import (
	"strings"
	"time"
)

// Command is a relay command or confirmed relay state.
type Command string

const (
	CommandUnknown Command = ""
	CommandOn      Command = "ON"
	CommandOff     Command = "OFF"
)

// ParseCommand accepts ON/OFF in any case.
func ParseCommand(value string) (Command, bool) {
	switch Command(strings.ToUpper(strings.TrimSpace(value))) {
	case CommandOn:
		return CommandOn, true
	case CommandOff:
		return CommandOff, true
	default:
		return CommandUnknown, false
	}
}

// ActuatorState is the last relay state confirmed by the device.
type ActuatorState struct {
	DeviceID   string
	Command    Command
	ObservedAt time.Time
}

// ActuatorReader exposes confirmed relay states.
type ActuatorReader interface {
	Actuator(deviceID string) (ActuatorState, bool)
}
