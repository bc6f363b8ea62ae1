package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionReader defines the read side of the execution log.
type ExecutionReader interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error)
	GetByID(ctx context.Context, id string) (domain.ExecutionResult, error)
}

// ExecutionHandler serves execution results.
type ExecutionHandler struct {
	execs  ExecutionReader
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(execs ExecutionReader, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{execs: execs, logger: logger}
}

type listExecutionsResponse struct {
	Executions []domain.ExecutionResult `json:"executions"`
}

// ListExecutions returns recent results with their legs.
// GET /api/executions?limit=50&offset=0
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.execs.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		failed(w, r, h.logger, "list_executions", "failed to list executions", err)
		return
	}
	if list == nil {
		list = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: list})
}

// GetExecution returns a single result by id.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}
	res, err := h.execs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		failed(w, r, h.logger.With(slog.String("id", id)), "get_execution", "failed to get execution", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
