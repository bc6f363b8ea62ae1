package handler

import (
	"net/http"
)

// StatusHandler serves the engine mode and universe for dashboards.
type StatusHandler struct {
	Mode     string
	Universe func() (assets []string, venues []string)
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, universe func() ([]string, []string)) *StatusHandler {
	return &StatusHandler{Mode: mode, Universe: universe}
}

// GetStatus responds with the current mode and scanned universe.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var assets, venues []string
	if h.Universe != nil {
		assets, venues = h.Universe()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.Mode,
		"assets": assets,
		"venues": venues,
	})
}
