package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"tollsync/internal/config"
	"tollsync/internal/middleware"
)

// RouterDeps carries the handlers and configuration the router mounts.
type RouterDeps struct {
	Ingestions *IngestionHandler
	Stats      *StatsHandler
	Health     *HealthHandler
	Server     config.ServerConfig
	Logger     *slog.Logger
}

// NewRouter assembles the chi router with the full middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Compress(5))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	rateLimiter := middleware.NewRateLimiter(deps.Server.RateLimitRPS, deps.Server.RateLimitBurst, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimiter.Handler)
		api.Use(middleware.Timeout(30*time.Second, deps.Logger))

		api.Get("/health", deps.Health.Health)

		api.Route("/ingestions", func(ing chi.Router) {
			ing.Post("/", deps.Ingestions.Create)
			ing.Get("/", deps.Ingestions.List)
			ing.Get("/{id}", deps.Ingestions.Get)
		})

		api.Get("/transactions/stats", deps.Stats.Stats)
	})

	return r
}
