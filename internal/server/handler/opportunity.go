package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityReader defines the methods that the opportunity handler
// requires.
type OpportunityReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// OpportunityHandler serves detected opportunities.
type OpportunityHandler struct {
	opps   OpportunityReader
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(opps OpportunityReader, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, logger: logger}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListRecent returns the most recent opportunities, newest first.
// GET /api/opportunities?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 200)
	if limit == 0 {
		limit = 20
	}

	opps, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		failed(w, r, h.logger, "list_opportunities", "failed to list opportunities", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}
