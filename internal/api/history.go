package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleGetHistory returns state history entries for a thing, newest first.
//
// Query parameters:
//   - channel: restrict to one channel
//   - limit: number of entries (default 50, max 500)
//   - since: RFC 3339 timestamp; only later entries are returned
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	thingID := chi.URLParam(r, "id")
	query := r.URL.Query()

	channelID := query.Get("channel")
	if channelID != "" {
		if err := thing.ValidateChannelID(channelID); err != nil {
			writeBadRequest(w, "invalid channel")
			return
		}
	}

	limit, err := parseHistoryLimit(query.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(query.Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if _, err := s.registry.GetThing(ctx, thingID); err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(ctx, thing.HistoryQuery{
		ThingID:   thingID,
		ChannelID: channelID,
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("loading state history failed", "thing", thingID, "error", err)
		writeInternalError(w, "failed to load state history")
		return
	}
	if entries == nil {
		entries = []thing.StateHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thing_id":   thingID,
		"channel_id": channelID,
		"history":    entries,
		"count":      len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(limit, maxHistoryLimit), nil
}

// parseSinceParam parses an optional RFC 3339 timestamp.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
