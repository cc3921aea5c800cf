package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports what the service is doing.
type StatusHandler struct {
	Mode      string
	Wallet    string
	StartedAt time.Time
	InFlight  func() int
}

// GetStatus responds with mode, wallet, uptime and in-flight operations.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	inFlight := 0
	if h.InFlight != nil {
		inFlight = h.InFlight()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"wallet":         h.Wallet,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"in_flight":      inFlight,
	})
}
