package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/taskweave/recall/internal/memory"
)

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(svc *memory.Service, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware, /health included.
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	memoryH := NewMemoryHandler(svc)
	searchH := NewSearchHandler(svc)
	assocH := NewAssociationHandler(svc)
	retrievalH := NewRetrievalHandler(svc)
	systemH := NewSystemHandler(svc)

	r.Get("/health", systemH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryH.Store)
			r.Get("/recent", memoryH.Recent)
			r.Post("/search", searchH.Search)
			r.Post("/search/keyword", searchH.Keyword)
			r.Get("/{id}", memoryH.Get)
			r.Patch("/{id}", memoryH.Update)
			r.Delete("/{id}", memoryH.Delete)
			r.Post("/{id}/supersede", memoryH.Supersede)
			r.Post("/{id}/associations", assocH.Create)
			r.Get("/{id}/associations", assocH.List)
			r.Get("/{id}/retrievals/stats", retrievalH.Stats)
		})

		r.Get("/outcomes/{id}/memories", searchH.ForOutcome)
		r.Get("/tasks/{id}/memories", searchH.ForTask)

		r.Get("/tags", searchH.Tags)
		r.Get("/tags/{name}/memories", searchH.ByTag)

		r.Patch("/associations/{id}", assocH.UpdateStrength)
		r.Post("/retrievals/{id}/feedback", retrievalH.MarkUseful)

		r.Get("/stats", systemH.Stats)
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/cleanup", systemH.Cleanup)
			r.Post("/reindex", systemH.Reindex)
			r.Post("/backfill", systemH.Backfill)
		})
	})

	return r
}
