package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"github.com/whitebl3ck/event-payments/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	limited := RateLimitMiddleware(rl, 60)

	r.With(limited).Post("/payment/initialize", h.InitializePayment)
	r.With(limited).Get("/payment/verify/{reference}", h.VerifyPayment)
	r.Post("/payment/webhook", h.Webhook)
	r.Post("/payment/webhook/{provider}", h.Webhook)
	r.Get("/payment/status/{reference}", h.PaymentStatus)

	r.With(limited).Post("/registrations", h.CreateRegistration)
	r.Get("/registrations/{id}", h.GetRegistration)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
