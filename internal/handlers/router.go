package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/photosync/mediaindex/internal/observability"
)

// RouterConfig holds what the HTTP layer is wired to
type RouterConfig struct {
	ServiceName string
	Media       *MediaHandler
	Scanner     *ScannerHandler
	Health      *HealthHandler
	// Metrics is optional
	Metrics *observability.HTTPMetrics
}

// NewRouter builds the chi router with tracing and the media routes
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.HTTPMiddleware(cfg.ServiceName, cfg.Metrics))

	// Routes
	r.Get("/health", cfg.Health.HealthCheck)
	r.Get("/api/health", cfg.Health.HealthCheck)

	r.Post("/api/media", cfg.Media.Ingest)
	r.Post("/api/stories/{story}/media", cfg.Media.Ingest)
	r.Route("/api/media/{id}", func(r chi.Router) {
		r.Get("/thumbnail", cfg.Media.GetThumbnail)
		r.Put("/rotation", cfg.Media.Rotate)
	})

	if cfg.Scanner != nil {
		r.Route("/api/scanner", func(r chi.Router) {
			r.Get("/status", cfg.Scanner.GetStatus)
			r.Post("/run", cfg.Scanner.RunNow)
			r.Post("/scan-file", cfg.Scanner.ScanFile)
			r.Get("/orphans", cfg.Scanner.Orphans)
		})
	}

	return r
}
