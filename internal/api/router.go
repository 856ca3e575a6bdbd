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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Monitoring operations
		r.Post("/discovery/run", s.handleRunDiscovery)
		r.Post("/collection/run", s.handleRunCollection)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{deviceID}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/points", s.handleListPoints)
				r.Get("/status-history", s.handleStatusHistory)
				r.Post("/catalog", s.handleCatalogDevice)
				r.Post("/collect", s.handleCollectDevice)
			})
		})

		// Point endpoints
		r.Route("/points/{pointID}", func(r chi.Router) {
			r.Get("/", s.handleGetPoint)
			r.Get("/readings", s.handleListReadings)
			r.Get("/latest", s.handleLatestReading)
		})
	})

	return r
}
