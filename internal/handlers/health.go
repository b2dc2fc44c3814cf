package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/lumenshop/orders-api/internal/platform/httpx"
)

// Pinger reports whether the backing database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	db Pinger
}

// NewHealthHandlers constructs a new HealthHandlers instance.
func NewHealthHandlers(db Pinger) *HealthHandlers {
	return &HealthHandlers{db: db}
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "database is unreachable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
