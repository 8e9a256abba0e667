package http

import (
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/avolkhin/movie-seat-reservations/internal/rateLimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware)

	r.Post("/v1/seats/{movieID}/{seatNumber}/hold", h.HoldSeat)
	r.Post("/v1/seats/{movieID}/{seatNumber}/confirm", h.ConfirmSeat)
	r.Post("/v1/seats/{movieID}/{seatNumber}/cancel", h.CancelSeat)
	r.Get("/v1/seats/{movieID}", h.ListSeats)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
