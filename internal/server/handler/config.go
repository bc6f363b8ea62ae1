package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/config"
)

// ConfigReloader re-reads the configuration file. *config.Store satisfies it.
type ConfigReloader interface {
	Reload(ctx context.Context) (*config.Config, error)
}

// ConfigHandler serves configuration endpoints.
type ConfigHandler struct {
	store  ConfigReloader
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(store ConfigReloader, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, logger: logger}
}

// Reload re-reads the config file. A rejected file leaves the running
// configuration in place and responds 422 with the validation problems.
// POST /api/config/reload
func (h *ConfigHandler) Reload(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Reload(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "handler: config reloaded via api")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"config": config.RedactedConfig(cfg),
	})
}
