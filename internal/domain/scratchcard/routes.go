package scratchcard

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scoredesk/scoredesk-api/internal/middleware"
	"github.com/scoredesk/scoredesk-api/internal/pkg/ratelimit"
)

// Routes mounts under /api/v1/scratch-cards. PIN endpoints are throttled
// per caller.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler, limiter ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(middleware.Throttle(limiter, "redeem")).Post("/redeem", h.Redeem)
	r.With(middleware.RequireStaff(), middleware.Throttle(limiter, "peek")).Post("/peek", h.Peek)
	return r
}

// ResultRoutes mounts under /api/v1/results.
func (h *Handler) ResultRoutes(authMiddleware func(http.Handler) http.Handler, limiter ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(middleware.Throttle(limiter, "unlock")).Post("/unlock", h.Unlock)
	return r
}

// AdminRoutes mounts under /api/admin/scratch-cards.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Post("/", h.Issue)
	r.Get("/", h.List)
	r.Post("/batches", h.IssueBatch)
	r.Get("/batches/{id}/manifest", h.Manifest)
	r.Post("/expire", h.Expire)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/redemptions", h.History)
	r.Post("/{id}/disable", h.Disable)
	return r
}
