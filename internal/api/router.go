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

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/devices", s.handleListDevices)
		r.Post("/control", s.handleControl)
		r.Post("/set_timer", s.handleSetTimer)
		r.Post("/update_config", s.handleUpdateConfig)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handlePutSettings)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/announce", s.handleAnnounceNotification)
	})

	// WebSocket for real-time state updates
	r.Get("/ws", s.handleWebSocket)

	return r
}
