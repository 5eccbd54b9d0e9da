package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tinkerforge-bridge/internal/auth"
	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Post("/auth/login", s.handleLogin)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/auth/me", s.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermThingRead))

				r.Get("/things", s.handleListThings)
				r.Get("/things/{id}", s.handleGetThing)
				r.Get("/things/{id}/status", s.handleGetThingStatus)
				r.Get("/things/{id}/channels", s.handleListChannels)
				r.Get("/things/{id}/history", s.handleGetHistory)
				r.Get("/device-types", s.handleListDeviceTypes)
				r.Get("/diagnostics", s.handleListDiagnostics)
			})

			r.With(requirePermission(auth.PermThingOperate)).
				Post("/things/{id}/channels/{channel}/command", s.handleSendCommand)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermThingConfigure))

				r.Post("/things", s.handleCreateThing)
				r.Delete("/things/{id}", s.handleDeleteThing)
				r.Put("/things/{id}/channels/{channel}/link", s.handleLinkChannel)
				r.Delete("/things/{id}/channels/{channel}/link", s.handleUnlinkChannel)
			})

			r.With(requirePermission(auth.PermSystemAdmin)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status. The status is "ok" unless
// the health reporter says otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.health != nil {
		msg := s.health.Current()
		if msg.Status != binding.HealthHealthy {
			resp["status"] = msg.Status
			resp["reason"] = msg.Reason
		}
		resp["uptime_seconds"] = msg.UptimeSeconds
	}
	writeJSON(w, http.StatusOK, resp)
}
