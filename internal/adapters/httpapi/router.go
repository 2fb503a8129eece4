package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the API HTTP router. This stays a thin adapter:
// middleware and route wiring only, all behavior lives in the service.
func NewRouter(s *Server, authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(authMW)

	// Health endpoint is used for infra checks and skips auth.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/calls", func(r chi.Router) {
		r.Post("/", s.withIdempotency("/calls", s.handleScheduleCall))
		r.Get("/", s.handleListCalls)
		r.Get("/mine", s.handleListMyCalls)
		r.Get("/upcoming", s.handleListUpcoming)
		r.Route("/{callId}", func(r chi.Router) {
			r.Get("/", s.handleGetCall)
			r.Patch("/", s.withIdempotency("/calls/{callId}", s.handleRescheduleCall))
			r.Post("/cancel", s.handleCancelCall)
			r.Post("/complete", s.handleCompleteCall)
			r.Delete("/", s.handleDeleteCall)
		})
	})

	r.Get("/agents/{agentId}/call-stats", s.handleAgentStats)

	return r
}
