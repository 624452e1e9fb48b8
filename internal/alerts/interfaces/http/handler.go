package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	alertapp "roomwatch/internal/alerts/application"
	alerts "roomwatch/internal/alerts/domain"
)

const maxBodyBytes = 1 << 20

// Handler provides alert HTTP endpoints.
type Handler struct {
	service *alertapp.Service
	stream  http.Handler
	logger  *zap.Logger
}

// NewHandler constructs a handler. stream may be nil.
func NewHandler(service *alertapp.Service, stream http.Handler, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, stream: stream, logger: logger}, nil
}

// RegisterRoutes registers the alert routes. Fixed paths come before {id}.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/alerts", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/alerts", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/alerts/events", h.handleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/api/alerts/events/{id}/ack", h.handleAck).Methods(http.MethodPost)
	router.HandleFunc("/api/alerts/badge", h.handleBadge).Methods(http.MethodGet)
	if h.stream != nil {
		router.Handle("/api/alerts/stream", h.stream).Methods(http.MethodGet)
	}
	router.HandleFunc("/api/alerts/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/alerts/{id}", h.handleUpdate).Methods(http.MethodPut)
	router.HandleFunc("/api/alerts/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAlerts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	draft := alertapp.NewAlert()
	if err := decodeBody(r, &draft); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	created, err := h.service.CreateAlert(r.Context(), draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": created.ID, "alert": created})
}

// handleUpdate applies the body as a merge patch over the stored alert.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	existing, err := h.service.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	patched := *existing
	if err := decodeBody(r, &patched); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	patched.ID = existing.ID
	updated, err := h.service.UpdateAlert(r.Context(), patched)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "alert": updated})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAlert(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := alerts.EventFilter{}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("severity")); raw != "" {
		severity := alerts.Severity(strings.ToLower(raw))
		if !severity.Valid() {
			http.Error(w, "invalid severity", http.StatusBadRequest)
			return
		}
		filter.Severity = severity
	}
	filter.OnlyOpen = parseBool(query.Get("onlyOpen"))

	list, err := h.service.ListEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []alerts.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.AckEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event": event})
}

func (h *Handler) handleBadge(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.BadgeCount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alerts.ErrInvalidDefinition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("alerts api error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
