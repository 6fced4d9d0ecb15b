package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/entities", func(r chi.Router) {
				r.Get("/", s.handleListEntities)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEntity)
					r.Get("/history", s.handleEntityHistory)
				})
			})

			r.Get("/devices", s.handleListDevices)
			r.Get("/snapshot", s.handleSnapshot)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
