package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventLog reads the durable event stream.
type EventLog interface {
	Replay(ctx context.Context, stream, afterID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler replays the structured event log so clients can catch up from
// the last id they saw.
type EventHandler struct {
	log    EventLog
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler over stream.
func NewEventHandler(log EventLog, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{log: log, stream: stream, logger: logger}
}

type replayedEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type replayResponse struct {
	Events []replayedEvent `json:"events"`
	LastID string          `json:"last_id,omitempty"`
}

// Replay returns events after the given id, oldest first.
// GET /api/events?after=1712345678901-0&limit=100
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	limit := queryInt(r, "limit", 100, 1000)
	if limit == 0 {
		limit = 100
	}

	msgs, err := h.log.Replay(r.Context(), h.stream, after, limit)
	if err != nil {
		failed(w, r, h.logger, "replay_events", "failed to read event log", err)
		return
	}

	resp := replayResponse{Events: make([]replayedEvent, 0, len(msgs)), LastID: after}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Events = append(resp.Events, replayedEvent{ID: m.ID, Event: m.Payload})
		resp.LastID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
