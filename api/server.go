/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/settlements/*    Settlement lifecycle
  /api/drivers/*        Driver management and per-driver reads
  /api/loads/*          Load management
  /api/advances         Cash advances
  /api/rules            Deduction rules
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Settlement lifecycle
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Post("/generate", h.GenerateSettlement)
			r.Post("/preview", h.PreviewSettlement)
			r.Get("/{id}", h.GetSettlement)
			r.Post("/{id}/approve", h.ApproveSettlement)
			r.Post("/{id}/reject", h.RejectSettlement)
		})

		// Driver routes
		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", h.ListDrivers)
			r.Post("/", h.UpsertDriver)
			r.Get("/{id}", h.GetDriver)
			r.Get("/{id}/advances", h.ListDriverAdvances)
			r.Get("/{id}/rules", h.ListDriverRules)
		})

		// Load routes
		r.Route("/loads", func(r chi.Router) {
			r.Get("/", h.ListLoads)
			r.Post("/", h.UpsertLoad)
		})

		// Advance and rule routes
		r.Post("/advances", h.CreateAdvance)
		r.Post("/rules", h.CreateRule)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
