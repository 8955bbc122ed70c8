package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// RouterConfig holds router-level options.
type RouterConfig struct {
	// AllowedOrigins for CORS; empty means any origin.
	AllowedOrigins []string
	// Events, if non-nil, is mounted at GET /api/events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with the public routes (/health,
// /uploads/{uploadId}) and the bearer-protected /api routes.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/uploads/{uploadId}", h.ServeUpload)
	r.Head("/uploads/{uploadId}", h.ServeUpload)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.authority))

			r.Get("/auth/verify", h.Verify)
			r.Post("/onlyoffice/token", h.EditorToken)
			r.Post("/documents/metadata", h.DocumentMetadata)
			r.Post("/uploads", h.Upload)
			r.Delete("/uploads/{uploadId}", h.DeleteUpload)

			if cfg.Events != nil {
				r.Get("/events", cfg.Events.ServeHTTP)
			}
		})
	})

	return r
}
