package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/storefront-backend/api/controllers"
	ordercontrollers "github.com/storefront/storefront-backend/api/controllers/orders"
	paymentcontrollers "github.com/storefront/storefront-backend/api/controllers/payments"
	"github.com/storefront/storefront-backend/api/middleware"
	"github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/enums"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/redis"
)

// SweepFirer starts the opportunistic unpaid-order sweep.
type SweepFirer interface {
	Fire(ctx context.Context)
}

type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency redis.IdempotencyStore
	Orders      orders.Service
	Gateway     paymentcontrollers.Gateway
	Sweep       SweepFirer
	// Metrics serves /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	metricsHandler := params.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	idempotent := middleware.Idempotency(params.Idempotency, logg)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Sweeper.TriggerEnabled && params.Sweep != nil {
			r.Use(middleware.SweepTrigger(params.Sweep))
		}

		// Guests may order and pay; a bearer token, when sent, must be valid.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.With(idempotent).Post("/orders", ordercontrollers.Create(params.Orders, logg))
			r.Get("/orders/{orderId}", ordercontrollers.Detail(params.Orders, logg))
			r.With(idempotent).Post("/payments/gateway/create-payment-url", paymentcontrollers.CreatePaymentURL(params.Gateway, logg))
			r.Get("/payments/check-status/{orderId}", paymentcontrollers.CheckStatus(params.Gateway, logg))
		})

		// Gateway callbacks are authenticated by their signature.
		r.Get("/payments/gateway/return", paymentcontrollers.Return(params.Gateway, logg))
		r.Post("/payments/gateway/return", paymentcontrollers.Return(params.Gateway, logg))
		r.Get("/payments/gateway/ipn", paymentcontrollers.IPN(params.Gateway, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/orders", ordercontrollers.List(params.Orders, logg))
			r.With(idempotent).Put("/orders/{orderId}/cancel", ordercontrollers.Cancel(params.Orders, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
				r.Put("/orders/{orderId}/status", ordercontrollers.UpdateStatus(params.Orders, logg))
				r.Put("/orders/{orderId}/payment-status", ordercontrollers.UpdatePaymentStatus(params.Orders, logg))
				r.With(idempotent).Post("/orders/{orderId}/refund", ordercontrollers.Refund(params.Orders, logg))
			})
		})
	})

	return r
}
