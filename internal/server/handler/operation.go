package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// OperationHandler serves the operation journal.
type OperationHandler struct {
	store  domain.OperationStore
	logger *slog.Logger
}

// NewOperationHandler creates an OperationHandler.
func NewOperationHandler(store domain.OperationStore, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{store: store, logger: logHandler(logger, "operation")}
}

type operationJSON struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Event     string    `json:"event"`
	Intent    string    `json:"intent"`
	State     string    `json:"state"`
	Amount    string    `json:"amount,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toOperationJSON(rec domain.OperationRecord) operationJSON {
	out := operationJSON{
		ID:        rec.ID,
		Wallet:    rec.User.Hex(),
		Event:     rec.Event.Hex(),
		Intent:    string(rec.Intent),
		State:     string(rec.State),
		TxHash:    rec.TxHash,
		ErrorKind: string(rec.ErrorKind),
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Amount != nil {
		out.Amount = rec.Amount.String()
	}
	return out
}

// ListOperations returns journaled operations newest first.
// GET /api/operations?limit=50&offset=0
func (h *OperationHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list operations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	out := make([]operationJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toOperationJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": out})
}

// GetOperation returns one journaled operation.
// GET /api/operations/{id}
func (h *OperationHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get operation failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}
	writeJSON(w, http.StatusOK, toOperationJSON(rec))
}
