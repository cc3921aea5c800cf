package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logHandler(logger, "audit")}
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit entries newest first, optionally restricted to an
// event family.
// GET /api/audit?event=operation.&limit=50
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := domain.AuditQuery{ListOpts: parseListOpts(r), EventPrefix: r.URL.Query().Get("event")}
	entries, err := h.store.List(r.Context(), q)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
