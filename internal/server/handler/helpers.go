package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// writeJSON writes v with status. Marshal failures become a bare 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads a non-negative integer query parameter, clamped to max
// when max > 0. Missing or malformed values yield def.
func queryInt(r *http.Request, name string, def, max int) int {
	n := def
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			n = parsed
		}
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	limit := queryInt(r, "limit", 50, 500)
	if limit == 0 {
		limit = 50
	}
	return domain.ListOpts{Limit: limit, Offset: queryInt(r, "offset", 0, 0)}
}

// failed logs err against the handler name and writes a 500 with msg.
func failed(w http.ResponseWriter, r *http.Request, logger *slog.Logger, handler, msg string, err error) {
	logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg)
}
