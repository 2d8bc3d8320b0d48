/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. Logger:      Request logging
  3. Recoverer:   Panic recovery (500 instead of crash)
  4. Timeout:     server.request_timeout_seconds
  5. CORS:        Cross-origin requests for the dashboard
  6. RequireAuth: /api/* only; /healthz stays open

ROUTE GROUPS:
  /healthz                 Liveness
  /api/xp-backfill         Action endpoint
  /api/backfill            Bulk run
  /api/users/{id}/*        Per-user REST mirrors
  /api/scenarios/*         Demo data (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: bearer token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the HTTP settings from config.
type RouterOptions struct {
	JWTSecret      []byte
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(opts.JWTSecret, h.Log))

		r.Post("/xp-backfill", h.Action)
		r.Post("/backfill", h.BackfillAll)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/backfill", h.BackfillUser)
			r.Post("/backfill/rollback", h.RollbackUser)
			r.Get("/backfill/report", h.GetReport)
			r.Post("/xp", h.AwardXP)
			r.Get("/stats", h.GetStats)
		})

		if h.Scenarios != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
