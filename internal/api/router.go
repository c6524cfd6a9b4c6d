package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/redis"
)

// jobTimeout bounds synchronous job runs. Other routes get requestTimeout.
const (
	requestTimeout = 30 * time.Second
	jobTimeout     = 10 * time.Minute
)

// NewRouter mounts the operator API. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger, OperatorKeyFunc))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/templates", h.ListTemplates)
			r.Delete("/templates/{code}/cache", h.InvalidateTemplate)
			r.Get("/deliveries", h.ListDeliveries)
			r.Get("/channels", h.ListChannels)
			r.Post("/notifications", h.SendNotification)
			r.Get("/jobs", h.ListJobs)
			r.Post("/jobs/{name}/enqueue", h.EnqueueJob)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(jobTimeout))

			r.Post("/notifications/bulk", h.SendBulk)
			r.Post("/jobs/{name}/run", h.RunJob)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
