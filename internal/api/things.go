package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tinkerforge-bridge/internal/audit"
	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// commandTimeout bounds a command posted through the API.
const commandTimeout = 10 * time.Second

// sourceAPI marks commands received over HTTP.
const sourceAPI = "api"

// createThingRequest is the request body for POST /things.
type createThingRequest struct {
	ID             string                  `json:"id"`
	Label          string                  `json:"label"`
	ThingType      string                  `json:"thing_type"`
	BridgeID       *string                 `json:"bridge_id,omitempty"`
	Config         thing.Config            `json:"config"`
	ChannelConfig  map[string]thing.Config `json:"channel_config,omitempty"`
	LinkedChannels []string                `json:"linked_channels"`
}

// commandRequest is the request body for POST .../command.
type commandRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// channelView describes one channel of a thing.
type channelView struct {
	ID     string              `json:"id"`
	Linked bool                `json:"linked"`
	State  *thing.ChannelState `json:"state,omitempty"`
}

// handleListThings returns all things.
//
// Query parameters:
//   - type: filter by thing type
//   - bridge: filter by bridge thing ID
func (s *Server) handleListThings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		things []thing.Thing
		err    error
	)
	switch q := r.URL.Query(); {
	case q.Get("type") != "":
		things, err = s.registry.ListByType(ctx, q.Get("type"))
	case q.Get("bridge") != "":
		things, err = s.registry.ListByBridge(ctx, q.Get("bridge"))
	default:
		things, err = s.registry.ListThings(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list things")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"things": things, "count": len(things)})
}

// handleGetThing returns a single thing by ID.
func (s *Server) handleGetThing(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.GetThing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleGetThingStatus returns the status of a thing.
func (s *Server) handleGetThingStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.registry.GetThing(r.Context(), id)
	if err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}

	_, running := s.binding.Handler(id)
	if !running {
		_, running = s.binding.Bridge(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thing_id":    id,
		"status":      t.StatusInfo(),
		"has_handler": running,
	})
}

// handleListChannels returns the channels of a thing's type with their
// link flag and last published state.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.GetThing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}

	ids, ok := binding.Channels(t.ThingType)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unsupported thing type: "+t.ThingType)
		return
	}

	channels := make([]channelView, 0, len(ids))
	for _, id := range ids {
		view := channelView{ID: id, Linked: t.IsLinked(id)}
		if cs, ok := t.ChannelStates[id]; ok {
			view.State = &cs
		}
		channels = append(channels, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thing_id":   t.ID,
		"thing_type": t.ThingType,
		"channels":   channels,
		"count":      len(channels),
	})
}

// handleCreateThing registers a thing and starts its handler.
func (s *Server) handleCreateThing(w http.ResponseWriter, r *http.Request) {
	var req createThingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	channels, ok := binding.Channels(req.ThingType)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unsupported thing type: "+req.ThingType)
		return
	}
	for _, ch := range req.LinkedChannels {
		if !slices.Contains(channels, ch) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown channel: "+ch)
			return
		}
	}

	t := &thing.Thing{
		ID:             req.ID,
		Label:          req.Label,
		ThingType:      req.ThingType,
		BridgeID:       req.BridgeID,
		Config:         req.Config,
		ChannelConfig:  req.ChannelConfig,
		LinkedChannels: req.LinkedChannels,
	}
	if t.Config == nil {
		t.Config = thing.Config{}
	}
	if err := s.binding.AddThing(r.Context(), t); err != nil {
		writeThingError(w, err, "failed to create thing")
		return
	}

	s.auditLog(r, audit.ActionCreate, audit.EntityThing, t.ID, map[string]any{"thing_type": t.ThingType})

	created, err := s.registry.GetThing(r.Context(), t.ID)
	if err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteThing disposes a thing's handler and removes it.
func (s *Server) handleDeleteThing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.binding.RemoveThing(r.Context(), id); err != nil {
		writeThingError(w, err, "failed to delete thing")
		return
	}
	s.auditLog(r, audit.ActionDelete, audit.EntityThing, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleLinkChannel links a channel; the handler publishes its current state.
func (s *Server) handleLinkChannel(w http.ResponseWriter, r *http.Request) {
	id, channelID := chi.URLParam(r, "id"), chi.URLParam(r, "channel")
	added, err := s.binding.LinkChannel(r.Context(), id, channelID)
	if err != nil {
		writeThingError(w, err, "failed to link channel")
		return
	}
	s.auditLog(r, audit.ActionLink, audit.EntityChannel, id+"/"+channelID, map[string]any{"changed": added})
	writeJSON(w, http.StatusOK, map[string]any{"thing_id": id, "channel_id": channelID, "linked": true, "changed": added})
}

// handleUnlinkChannel unlinks a channel.
func (s *Server) handleUnlinkChannel(w http.ResponseWriter, r *http.Request) {
	id, channelID := chi.URLParam(r, "id"), chi.URLParam(r, "channel")
	removed, err := s.binding.UnlinkChannel(r.Context(), id, channelID)
	if err != nil {
		writeThingError(w, err, "failed to unlink channel")
		return
	}
	s.auditLog(r, audit.ActionUnlink, audit.EntityChannel, id+"/"+channelID, map[string]any{"changed": removed})
	writeJSON(w, http.StatusOK, map[string]any{"thing_id": id, "channel_id": channelID, "linked": false, "changed": removed})
}

// handleSendCommand runs a command through the binding and returns its
// acknowledgment. The response status reflects the ack error code.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id, channelID := chi.URLParam(r, "id"), chi.URLParam(r, "channel")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if _, err := s.registry.GetThing(r.Context(), id); err != nil {
		writeThingError(w, err, "failed to get thing")
		return
	}

	msg := binding.CommandMessage{
		ID:        req.ID,
		Timestamp: time.Now().UTC(),
		Command:   req.Command,
		Source:    sourceAPI,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		msg.UserID = claims.Subject
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	ack := s.binding.ExecuteCommand(ctx, id, channelID, msg)
	s.auditLog(r, audit.ActionCommand, audit.EntityChannel, id+"/"+channelID, map[string]any{
		"command": req.Command,
		"status":  ack.Status,
	})
	writeJSON(w, ackHTTPStatus(ack), ack)
}
