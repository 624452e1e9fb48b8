package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	ruleapp "roomwatch/internal/rules/application"
	rules "roomwatch/internal/rules/domain"
)

const maxBodyBytes = 1 << 20

// Handler provides rule HTTP endpoints.
type Handler struct {
	service *ruleapp.Service
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *ruleapp.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("rules handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// RegisterRoutes registers the rule routes.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rules", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/rules", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/rules/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/rules/{id}", h.handleUpdate).Methods(http.MethodPut)
	router.HandleFunc("/api/rules/{id}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/rules/{id}/logs", h.handleListLogs).Methods(http.MethodGet)
	router.HandleFunc("/api/rules/{id}/logs", h.handleAppendLog).Methods(http.MethodPost)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	draft := ruleapp.NewRule()
	if err := decodeBody(r, &draft); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	created, err := h.service.CreateRule(r.Context(), draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": created.ID, "rule": created})
}

// handleUpdate applies the body as a merge patch over the stored rule.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	existing, err := h.service.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	patched := *existing
	if err := decodeBody(r, &patched); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	patched.ID = existing.ID
	updated, err := h.service.UpdateRule(r.Context(), patched)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule": updated})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = max(n, 1)
	}
	logs, err := h.service.ListFireLogs(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []rules.FireLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (h *Handler) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var entry rules.FireLog
	if err := decodeBody(r, &entry); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	if err := h.service.AppendFireLog(r.Context(), mux.Vars(r)["id"], entry); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, rules.ErrInvalidDefinition) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "invalid json body", http.StatusBadRequest)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, rules.ErrInvalidDefinition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("rules api error", zap.Error(err))
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
