package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parley-ai/parley/core"
)

// handleListEvents serves GET /sessions/{id}/events with optional
// long-polling: ?min_offset=N&source=ai_agent&kinds=message,status
// &wait_for_data=T waits up to T seconds for matching events to appear.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := core.SessionID(chi.URLParam(r, "sessionID"))
	q := r.URL.Query()

	minOffset := 0
	if v := q.Get("min_offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid min_offset"})
			return
		}
		minOffset = n
	}

	filter := core.EventFilter{}
	if v := q.Get("source"); v != "" {
		filter.Sources = []core.EventSource{core.EventSource(v)}
	}
	if v := q.Get("kinds"); v != "" {
		for _, k := range strings.Split(v, ",") {
			filter.Kinds = append(filter.Kinds, core.EventKind(k))
		}
	}

	var wait time.Duration
	if v := q.Get("wait_for_data"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid wait_for_data"})
			return
		}
		wait = time.Duration(secs) * time.Second
	}

	deadline := time.Now().Add(wait)
	for {
		events, err := s.sessions.ListEvents(r.Context(), sessionID, minOffset, filter)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		if len(events) > 0 || !time.Now().Before(deadline) {
			writeJSON(w, http.StatusOK, map[string]any{"events": events})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}

// handleLogFeed streams broadcast log records over a websocket until the
// client disconnects.
func (s *Server) handleLogFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("log feed upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	records, cancel := s.broadcaster.Subscribe()
	defer cancel()

	// Reader goroutine just detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		}
	}
}
