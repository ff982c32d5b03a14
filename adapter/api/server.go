// Package api provides the HTTP API for plans, subscriptions, webhook
// endpoints and payment processing.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger *slog.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handlers groups the route handlers. A nil Processing leaves the
// processing routes unmounted.
type Handlers struct {
	Billing    *BillingHandler
	Webhooks   *WebhooksHandler
	Processing *ProcessingHandler
	Health     *observability.HealthRegistry
	Metrics    observability.Metrics
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, h Handlers, logger *slog.Logger) *Server {
	logger = observability.OrDefault(logger)
	s := &Server{
		router: NewRouter(h, logger),
		logger: logger,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(h Handlers, logger *slog.Logger) *chi.Mux {
	logger = observability.OrDefault(logger)
	metrics := h.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(requestLogger(logger))
	r.Use(requestMetrics(metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(h.Health))

	r.Route("/api/v1", func(r chi.Router) {
		if h.Billing != nil {
			r.Post("/plans", h.Billing.CreatePlan)
			r.Route("/creators/{creatorID}/plans", func(r chi.Router) {
				r.Get("/", h.Billing.ListPlans)
				r.Route("/{planID}", func(r chi.Router) {
					r.Get("/", h.Billing.GetPlan)
					r.Patch("/", h.Billing.UpdatePlan)
					r.Post("/pause", h.Billing.PausePlan)
					r.Post("/unpause", h.Billing.UnpausePlan)
					r.Post("/deactivate", h.Billing.DeactivatePlan)
				})
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", h.Billing.Subscribe)
				r.Get("/", h.Billing.ListSubscriptions)
				r.Route("/{subscriptionID}", func(r chi.Router) {
					r.Get("/", h.Billing.GetSubscription)
					r.Post("/cancel", h.Billing.CancelSubscription)
					r.Post("/pause", h.Billing.PauseSubscription)
					r.Post("/resume", h.Billing.ResumeSubscription)
				})
			})
		}

		if h.Webhooks != nil {
			r.Route("/webhooks/endpoints", func(r chi.Router) {
				r.Post("/", h.Webhooks.RegisterEndpoint)
				r.Get("/", h.Webhooks.ListEndpoints)
				r.Get("/{endpointID}", h.Webhooks.GetEndpoint)
				r.Post("/{endpointID}/disable", h.Webhooks.DisableEndpoint)
			})
		}

		if h.Processing != nil {
			r.Post("/processing/run", h.Processing.Run)
			r.Get("/processing/status", h.Processing.Status)
		}
	})

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

func healthHandler(registry *observability.HealthRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registry == nil {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": string(observability.HealthStatusHealthy),
				"time":   time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		health := registry.Check(r.Context())
		status := http.StatusOK
		if health.Status == observability.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}
