package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the HTTP router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/hosts", func(r chi.Router) {
			r.Post("/", s.handleCreateHost)
			r.Get("/{id}", s.handleGetHost)
		})

		r.Route("/grids", func(r chi.Router) {
			r.Get("/", s.handleListGrids)
			r.Post("/", s.handleSaveGrid)
			r.Get("/{hostId}", s.handleListHostGrids)
		})

		r.Route("/grid/{hostId}/{gridId}", func(r chi.Router) {
			r.Get("/", s.handleGetGrid)
			r.Put("/", s.handleUpdateGrid)
		})
	})

	r.Get(s.wsPath(), s.handleWebSocket)

	if s.metricsCfg.Enabled && s.gatherer != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"listeners": s.registry.Len(),
	})
}
