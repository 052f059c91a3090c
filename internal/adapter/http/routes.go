package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Route("/memory", func(r chi.Router) {
			// Prompt context
			r.Get("/context", h.GetContext)

			// Observations
			r.Get("/users/{userID}/agents/{agentID}/observations", h.ListObservations)
			r.Delete("/users/{userID}/agents/{agentID}/observations", h.ClearObservations)
			r.Delete("/observations/{id}", h.DeleteObservation)

			// Per-agent config
			r.Get("/agents/{agentID}/config", h.GetConfig)
			r.Put("/agents/{agentID}/config", h.UpdateConfig)

			// Extraction pipeline
			r.Post("/extractions", h.TriggerExtraction)
			r.Get("/sessions/{sessionID}/extraction", h.GetExtractionJob)
			r.Post("/remember", h.Remember)

			// Maintenance
			r.Post("/users/{userID}/agents/{agentID}/reflect", h.Reflect)
		})
	})

	r.NotFound(notFound)
}
