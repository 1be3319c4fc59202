package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brickledger/internal/platform/metrics"
	"brickledger/internal/platform/middleware"
)

const requestTimeout = 30 * time.Second

// NewRouter assembles the middleware chain and mounts all endpoints.
// A nil validator disables auth; only tests and local development run
// without one.
func NewRouter(h *Handler, logger *slog.Logger, m *metrics.Metrics, validator middleware.JWTValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.LatencyMiddleware(m))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if validator != nil {
			r.Use(middleware.RequireAuth(validator, logger))
		}

		r.Post("/v1/operations", h.HandleOperations)

		r.Get("/v1/tokens", h.HandleListTokens)
		r.Get("/v1/tokens/{tokenID}", h.HandleGetToken)
		r.Get("/v1/tokens/{tokenID}/proposals", h.HandleListProposals)
		r.Get("/v1/proposals/{proposalID}", h.HandleGetProposal)
		r.Get("/v1/escrows/{escrowID}", h.HandleGetEscrow)
		r.Get("/v1/audit/{topicID}/events", h.HandleAuditEvents)
	})

	return r
}
