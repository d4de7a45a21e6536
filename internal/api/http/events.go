package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mind-engage/answer-eval/internal/eventlog"
	"github.com/mind-engage/answer-eval/internal/logger"
)

type EventReader interface {
	Since(ctx context.Context, after int64, limit int) ([]eventlog.Event, error)
}

// GET /events?after=0&limit=100  admin audit feed, oldest first
func ListEventsHandler(events EventReader, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		items, err := events.Since(r.Context(), after, limit)
		if err != nil {
			writeError(w, log, err)
			return
		}
		next := after
		if n := len(items); n > 0 {
			next = items[n-1].Seq
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": items, "next": next})
	}
}
