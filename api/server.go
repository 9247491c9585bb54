/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*            Directory, scores, reports, attendance per user
  /api/rows/*             Row workflow
  /api/unlock-requests/*  Unlock decisions
  /api/managers/*         Manager queues
  /api/reports/*          Team reports
  /api/scenarios/*        Demo scenarios
  /api/health             Liveness + database ping

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header names the acting
  user and is trusted as-is.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins falls back to the local frontend dev servers.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Directory + per-user routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Post("/{id}/scores/{month}/recompute", h.RecomputeUserScores)
			r.Get("/{id}/reports/{month}", h.GetUserMonthReport)
			r.Post("/{id}/attendance/{month}/aggregate", h.AggregateAttendance)
		})
		r.Post("/entities", h.CreateEntity)
		r.Post("/mappings", h.CreateMapping)

		// Row workflow
		r.Route("/rows", func(r chi.Router) {
			r.Put("/", h.SaveDraft)
			r.Get("/{id}", h.GetRow)
			r.Get("/{id}/score", h.GetRowScore)
			r.Post("/{id}/submit", h.SubmitRow)
			r.Post("/{id}/approve", h.ApproveRow)
			r.Post("/{id}/return", h.ReturnRow)
			r.Post("/{id}/unlock-requests", h.RequestUnlock)
		})

		r.Route("/unlock-requests", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApproveUnlock)
			r.Post("/{id}/reject", h.RejectUnlock)
		})

		r.Route("/managers", func(r chi.Router) {
			r.Get("/{id}/pending-review", h.PendingReview)
			r.Get("/{id}/unlock-requests", h.PendingUnlocks)
		})

		r.Post("/scores/batch", h.BatchComputeScores)
		r.Get("/reports/team", h.GetTeamReport)
		r.Get("/workflow/stats", h.WorkflowStats)
		r.Post("/attendance", h.RecordAttendance)
		r.Get("/audit", h.QueryAudit)

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

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
