package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	telemetry "roomwatch/internal/telemetry/domain"
)

type sampleView struct {
	Fields     telemetry.Fields `json:"fields"`
	ObservedAt time.Time        `json:"observedAt"`
}

type roomView struct {
	Room      string      `json:"room"`
	Sensor    *sampleView `json:"sensor,omitempty"`
	Occupancy *sampleView `json:"occupancy,omitempty"`
}

type actuatorView struct {
	DeviceID   string            `json:"deviceId"`
	Command    telemetry.Command `json:"command"`
	ObservedAt time.Time         `json:"observedAt"`
}

// ActuatorLister exposes confirmed relay states and the devices that have one.
type ActuatorLister interface {
	telemetry.ActuatorReader
	Devices() []string
}

// StateHandler exposes the latest known room snapshots.
type StateHandler struct {
	states    telemetry.StateReader
	actuators ActuatorLister
}

// NewStateHandler constructs a state handler. actuators may be nil.
func NewStateHandler(states telemetry.StateReader, actuators ActuatorLister) (*StateHandler, error) {
	if states == nil {
		return nil, errors.New("telemetry state: nil state reader")
	}
	return &StateHandler{states: states, actuators: actuators}, nil
}

// RegisterRoutes registers the state routes.
func (h *StateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/state", h.handleState).Methods(http.MethodGet)
	router.HandleFunc("/api/state/{room}", h.handleRoom).Methods(http.MethodGet)
}

func (h *StateHandler) handleState(w http.ResponseWriter, r *http.Request) {
	rooms := make([]roomView, 0)
	for _, entity := range h.states.Entities() {
		rooms = append(rooms, h.room(entity))
	}
	relays := make([]actuatorView, 0)
	if h.actuators != nil {
		for _, device := range h.actuators.Devices() {
			state, ok := h.actuators.Actuator(device)
			if !ok {
				continue
			}
			relays = append(relays, actuatorView{DeviceID: device, Command: state.Command, ObservedAt: state.ObservedAt})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rooms, "actuators": relays})
}

func (h *StateHandler) handleRoom(w http.ResponseWriter, r *http.Request) {
	view := h.room(mux.Vars(r)["room"])
	if view.Sensor == nil && view.Occupancy == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *StateHandler) room(entity string) roomView {
	view := roomView{Room: entity}
	if sample, ok := h.states.Get(telemetry.KindSensor, entity); ok {
		view.Sensor = &sampleView{Fields: sample.Fields, ObservedAt: sample.ObservedAt}
	}
	if sample, ok := h.states.Get(telemetry.KindOccupancy, entity); ok {
		view.Occupancy = &sampleView{Fields: sample.Fields, ObservedAt: sample.ObservedAt}
	}
	return view
}
