package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Health checks (no auth, outside /api)
	if h.health != nil {
		r.Get("/health", h.health.HandleHealth)
		r.Get("/health/live", h.health.HandleLiveness)
		r.Get("/health/ready", h.health.HandleReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		// Import jobs
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.HandleEnqueueImport)
			r.Get("/", h.HandleListImports)
			r.Get("/{jobId}", h.HandleGetImport)
			r.Post("/{jobId}/cancel", h.HandleCancelImport)
		})

		// Sessions and their checkpoints
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/resumable", h.HandleListResumable)
			r.Get("/{sessionId}/progress", h.HandleGetProgress)
			r.Post("/{sessionId}/resume", h.HandleResumeSession)
			r.Get("/{sessionId}/checkpoints", h.HandleListCheckpoints)
			r.Delete("/{sessionId}/checkpoints", h.HandleDeleteCheckpoints)
		})
	})

	return r
}
