package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agoradebate/agora/internal/api/handler"
	custommiddleware "github.com/agoradebate/agora/internal/api/middleware"
	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/metrics"
	"github.com/agoradebate/agora/internal/readings"
	"github.com/agoradebate/agora/internal/store"
)

// Deps carries the wired components the router exposes over HTTP
type Deps struct {
	Sessions   *store.SessionStore
	Aggregator *readings.Aggregator
	Metrics    *metrics.Store
	// Ping checks durable tier connectivity for the readiness probe. May
	// be nil when the backing store has no meaningful probe.
	Ping func(ctx context.Context) error
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.Use(custommiddleware.Metrics(deps.Metrics))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	sessionHandler := handler.NewSessionHandler(deps.Sessions)
	readingsHandler := handler.NewReadingsHandler(deps.Sessions, deps.Aggregator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ping))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)

				r.Get("/messages", sessionHandler.ListMessages)
				r.Post("/messages", sessionHandler.AppendMessage)

				r.Get("/readings", readingsHandler.GetForSession)
				r.Get("/readings/{participantID}", readingsHandler.GetForParticipant)
			})
		})

		r.Get("/admin/pending-writes", handler.PendingWrites(deps.Sessions))
	})

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.Get(cfg.Metrics.Path, handler.MetricsSnapshot(deps.Metrics))
	}

	return r
}
