package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Refresher runs a manual refresh when the throttle allows.
type Refresher interface {
	RefreshNow(ctx context.Context) (bool, error)
}

// RefreshHandler serves the manual refresh trigger.
type RefreshHandler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(refresher Refresher, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{refresher: refresher, logger: logHandler(logger, "refresh")}
}

// Refresh runs a refresh now, or 202 when it was deferred by the throttle.
// POST /api/refresh
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ran, err := h.refresher.RefreshNow(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "manual refresh had failures", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "error": err.Error()})
		return
	}
	if !ran {
		writeJSON(w, http.StatusAccepted, map[string]any{"ran": false, "status": "scheduled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ran": true})
}
