package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Database unavailable")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
