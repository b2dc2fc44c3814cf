package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumenshop/orders-api/internal/platform/config"
	"github.com/lumenshop/orders-api/internal/platform/httpx"
	"github.com/lumenshop/orders-api/internal/platform/observability"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Config        config.Config
	Logger        *zap.Logger
	DB            Pinger
	Orders        *OrderHandlers
	Payments      *PaymentHandlers
	Shipping      *ShippingHandlers
	Webhooks      *WebhookHandlers
	Notifications *NotificationHandlers
}

// NewRouter wires the middleware chain and mounts every endpoint group.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLoggerMiddleware(deps.Logger))
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		AllowedMethods: deps.Config.CORS.AllowedMethods,
		AllowedHeaders: deps.Config.CORS.AllowedHeaders,
		MaxAge:         deps.Config.CORS.MaxAge,
	}))
	r.Use(observability.ActorMiddleware(deps.Config.Server.ActorHeader))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route matches the request path", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "the request method is not supported by this route", http.StatusMethodNotAllowed))
	})

	health := NewHealthHandlers(deps.DB)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/orders", deps.Orders.Routes)
		api.Route("/payments", deps.Payments.Routes)
		api.Route("/shipping", deps.Shipping.Routes)
		api.Route("/webhooks", deps.Webhooks.Routes)
		api.Route("/notifications", deps.Notifications.Routes)
	})

	return r
}
