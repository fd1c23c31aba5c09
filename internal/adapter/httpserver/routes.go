package httpserver

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/speakeasy-api/clerk-gate/internal/adapter/metrics"
	"github.com/speakeasy-api/clerk-gate/internal/core/service"
)

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	// Health probe and metrics
	r.Get("/health", s.handleHealth())
	r.Handle("/metrics", metrics.Handler())

	// Auth-required API. Strict mode rejects before the handler runs; soft
	// mode publishes the state and the handlers answer for themselves.
	r.Route("/api", func(api chi.Router) {
		if len(s.cfg.AuthorizedParties) > 0 {
			api.Use(cors.Handler(cors.Options{
				AllowedOrigins:   s.cfg.AuthorizedParties,
				AllowedMethods:   []string{"GET", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		if s.cfg.Mode == service.ModeSoft {
			api.Use(s.publishAuth)
		} else {
			api.Use(s.requireAuth)
		}
		api.Get("/clerk-jwt", s.handleClerkJWT())
		api.Get("/get-gated", s.handleGetGated())
	})

	// Legacy routes always use soft semantics.
	if s.cfg.LegacyRoutes {
		r.Group(func(legacy chi.Router) {
			legacy.Use(s.publishAuth)
			legacy.Get("/clerk_jwt", s.handleClerkJWT())
			legacy.Get("/get_gated", s.handleGetGated())
		})
	}

	s.router = r
}
