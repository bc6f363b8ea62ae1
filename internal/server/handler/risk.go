package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PositionBook defines the read side of the risk position book.
type PositionBook interface {
	Positions() []domain.Position
	ExposureReport(inFlight int) domain.ExposureReport
}

// RiskHandler serves exposure and position endpoints.
type RiskHandler struct {
	book     PositionBook
	inFlight func() int
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler. inFlight may be nil.
func NewRiskHandler(book PositionBook, inFlight func() int, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{book: book, inFlight: inFlight, logger: logger}
}

// Exposure returns the current exposure report.
// GET /api/risk/exposure
func (h *RiskHandler) Exposure(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.inFlight != nil {
		n = h.inFlight()
	}
	writeJSON(w, http.StatusOK, h.book.ExposureReport(n))
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every open residual position.
// GET /api/risk/positions
func (h *RiskHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.book.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
