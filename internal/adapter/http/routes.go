package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. taskLimit
// wraps task submission and may be nil; ws serves /ws and may be nil.
func MountRoutes(r chi.Router, h *Handlers, taskLimit func(http.Handler) http.Handler, ws http.HandlerFunc) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.EndSession)
		r.Get("/sessions/{id}/context", h.GetContext)
		r.Post("/sessions/{id}/inherit", h.InheritContext)
		if taskLimit != nil {
			r.With(taskLimit).Post("/sessions/{id}/tasks", h.ExecuteTask)
		} else {
			r.Post("/sessions/{id}/tasks", h.ExecuteTask)
		}

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents/{id}/deactivate", h.DeactivateAgent)
		r.Post("/agents/{id}/reactivate", h.ReactivateAgent)
		r.Get("/agents/{id}/prediction", h.PredictAgent)
		r.Get("/recommendations", h.Recommend)

		// Control loop
		r.Post("/optimize", h.ForceOptimization)
		r.Post("/analyze", h.AnalyzePatterns)
		r.Get("/issues", h.ListIssues)
		r.Post("/issues/{id}/recover", h.RecoverIssue)
		r.Get("/status", h.Status)
		r.Get("/metrics", h.Metrics)
		r.Get("/report", h.Report)
	})
}
