package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/orchestrator"
)

// EventService is what the event handler needs from the orchestrator.
type EventService interface {
	View(ctx context.Context, event common.Address) (orchestrator.View, error)
	SubmitStake(ctx context.Context, event common.Address, option domain.Option, display string) orchestrator.ActionResult
	Claim(ctx context.Context, event common.Address, intent domain.Intent) orchestrator.ActionResult
}

// EventHandler serves the per-event view and actions.
type EventHandler struct {
	svc    EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logHandler(logger, "event")}
}

// GetEvent returns the event as seen by the service wallet.
// GET /api/events/{address}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event address")
		return
	}
	v, err := h.svc.View(r.Context(), addr)
	if err != nil {
		code := statusForErr(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "view event failed",
				slog.String("event", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, http.StatusText(code))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type stakeRequest struct {
	Option *uint8 `json:"option"`
	Amount string `json:"amount"`
}

// Stake stakes a display amount on one option.
// POST /api/events/{address}/stake {"option":0,"amount":"1.5"}
func (h *EventHandler) Stake(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event address")
		return
	}
	var req stakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Option == nil || req.Amount == "" {
		writeError(w, http.StatusBadRequest, "option and amount are required")
		return
	}
	res := h.svc.SubmitStake(r.Context(), addr, domain.Option(*req.Option), req.Amount)
	h.respond(w, r, addr, res)
}

type claimRequest struct {
	Intent string `json:"intent"`
}

// Claim claims a reward, refund or creator refund.
// POST /api/events/{address}/claim {"intent":"reward"}
func (h *EventHandler) Claim(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event address")
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	intent, ok := domain.ParseClaimIntent(req.Intent)
	if !ok {
		writeError(w, http.StatusBadRequest, "intent must be reward, refund or creator_refund")
		return
	}
	res := h.svc.Claim(r.Context(), addr, intent)
	h.respond(w, r, addr, res)
}

func (h *EventHandler) respond(w http.ResponseWriter, r *http.Request, event common.Address, res orchestrator.ActionResult) {
	code := statusForKind(res.ErrorKind)
	if code >= http.StatusInternalServerError {
		h.logger.WarnContext(r.Context(), "action failed",
			slog.String("event", event.Hex()),
			slog.String("intent", string(res.Intent)),
			slog.String("kind", string(res.ErrorKind)),
		)
	}
	writeJSON(w, code, res)
}
