package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/tinkerforge-bridge/internal/audit"
)

// auditChanSize is the buffer of pending audit entries. Entries beyond it
// are dropped so requests never wait on SQLite.
const auditChanSize = 256

// auditLog records an action by the authenticated caller.
func (s *Server) auditLog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	userID := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = claims.Subject
	}
	s.recordAudit(r, action, entityType, entityID, userID, details)
}

// recordAudit logs the action and enqueues it for the audit trail.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID, userID string, details map[string]any) {
	s.logger.Info("audit",
		"action", action,
		"entity_type", entityType,
		"entity_id", entityID,
		"username", userID,
		"request_id", requestID(r.Context()),
	)
	if s.auditRepo == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     sourceAPI,
		Details:    details,
	}
	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit channel full, dropping entry", "action", action, "entity_id", entityID)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			s.flushAudit()
			return
		}
	}
}

// flushAudit writes every queued entry without blocking.
func (s *Server) flushAudit() {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		default:
			return
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit write failed", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

// handleListAuditLogs returns a page of audit entries, newest first.
//
// Query parameters: action, entity_type, entity_id, user_id, limit (max 200), offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
