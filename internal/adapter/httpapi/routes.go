package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/runs", h.StartRun)
		r.Get("/runs", h.ActiveRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/epics/{epicID}/runs", h.ListEpicRuns)
	})
}
