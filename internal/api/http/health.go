package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks a backing store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnectionChecker reports a live connection.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler reports dependency health. Nil dependencies are skipped.
type HealthHandler struct {
	db      Pinger
	broker  ConnectionChecker
	timeout time.Duration
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db Pinger, broker ConnectionChecker) *HealthHandler {
	return &HealthHandler{db: db, broker: broker, timeout: 2 * time.Second}
}

// ServeHTTP handles GET /healthz.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checks := map[string]string{}
	healthy := true
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.db.PingContext(ctx)
		cancel()
		if err != nil {
			checks["db"] = err.Error()
			healthy = false
		} else {
			checks["db"] = "ok"
		}
	}
	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			healthy = false
		}
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
