package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/apikey"
	"github.com/CedrosPay/checkout/internal/auth"
	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/ratelimit"
	"github.com/CedrosPay/checkout/internal/vault"
	"github.com/CedrosPay/checkout/internal/versioning"
)

var (
	serverStartTime = time.Now()
)

// Sessions is the checkout session machine as seen by the handlers.
type Sessions interface {
	Create(ctx context.Context, req checkout.CreateRequest) (checkout.Session, error)
	Get(ctx context.Context, id string) (checkout.Session, error)
	Update(ctx context.Context, id string, req checkout.UpdateRequest) (checkout.Session, error)
	Complete(ctx context.Context, id string, req checkout.CompleteRequest) (checkout.Session, error)
	Cancel(ctx context.Context, id string) (checkout.Session, error)
}

// TokenIssuer issues delegated payment tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, req vault.IssueRequest) (vault.Token, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Sessions Sessions
	Vault    TokenIssuer
	Guard    *idempotency.Guard
	Health   Pinger       // optional
	Webhooks WebhookAdmin // optional; admin routes need a configured admin key
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // optional; defaults to the global registry
	Logger   zerolog.Logger
}

// Server owns the listening http.Server for the checkout router.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	sessions Sessions
	vault    TokenIssuer
	guard    *idempotency.Guard
	health   Pinger
	webhooks WebhookAdmin
	logger   zerolog.Logger
}

// New builds the HTTP server with a fresh router.
func New(cfg *config.Config, deps Dependencies) *Server {
	router := chi.NewRouter()
	ConfigureRouter(router, cfg, deps)
	return NewFromHandler(cfg, router)
}

// NewFromHandler serves an already configured handler with the timeouts
// from cfg.Server.
func NewFromHandler(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Address,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout.Duration,
			WriteTimeout:      cfg.Server.WriteTimeout.Duration,
			IdleTimeout:       cfg.Server.IdleTimeout.Duration,
			Handler:           handler,
		},
	}
}

// ConfigureRouter attaches the checkout and delegate payment routes to an
// existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Dependencies) {
	if router == nil {
		return
	}
	newHandlers(cfg, deps).routes(router, deps)
}

func newHandlers(cfg *config.Config, deps Dependencies) *handlers {
	return &handlers{
		cfg:      cfg,
		sessions: deps.Sessions,
		vault:    deps.Vault,
		guard:    deps.Guard,
		health:   deps.Health,
		webhooks: deps.Webhooks,
		logger:   deps.Logger,
	}
}

func (h *handlers) routes(router chi.Router, deps Dependencies) {
	cfg := h.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{
				logger.RequestIDHeader,
				idempotencyKeyHeader,
				idempotentReplayedHeader,
				versioning.Header,
			},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(middleware.RealIP)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.Recoverer)

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints skip authentication and versioning.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", h.healthz)
		r.With(adminAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", metricsHandler(deps.Gatherer))
	})

	if h.webhooks != nil && cfg.Server.AdminMetricsAPIKey != "" {
		router.Route(prefix+"/admin/webhooks", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(adminAuth(cfg.Server.AdminMetricsAPIKey))
			r.Get("/", h.listFailedWebhooks)
			r.Post("/{id}/retry", h.retryFailedWebhook)
			r.Delete("/{id}", h.deleteFailedWebhook)
		})
	}

	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)

	// Agent-facing API. A charge can wait on the processor, so the timeout is generous.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(apikey.Middleware(apikey.FromConfig(cfg.Auth)))
		r.Use(ratelimit.GlobalLimiter(rateLimitCfg))
		r.Use(ratelimit.KeyLimiter(rateLimitCfg))
		r.Use(ratelimit.IPLimiter(rateLimitCfg))
		if cfg.Auth.SigningSecret != "" {
			r.Use(auth.NewSignatureVerifier(cfg.Auth.SigningSecret, cfg.Auth.MaxSkew.Duration).Middleware)
		}

		r.Group(func(r chi.Router) {
			versions := []string{cfg.Checkout.APIVersion}
			for _, d := range cfg.Checkout.DeprecatedAPIVersions {
				versions = append(versions, d.Version)
			}
			r.Use(versioning.Require(versions...))
			for _, d := range cfg.Checkout.DeprecatedAPIVersions {
				r.Use(versioning.NewDeprecationWarning(d.Version, d.Sunset, d.Message).Middleware)
			}

			r.Post(prefix+"/checkout_sessions", h.createSession)
			r.Get(prefix+"/checkout_sessions/{id}", h.getSession)
			r.Post(prefix+"/checkout_sessions/{id}", h.updateSession)
			r.Post(prefix+"/checkout_sessions/{id}/complete", h.completeSession)
			r.Post(prefix+"/checkout_sessions/{id}/cancel", h.cancelSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(versioning.Require(cfg.Vault.APIVersion))
			r.Post(prefix+"/agentic_commerce/delegate_payment", h.delegatePayment)
		})
	})
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Handler exposes the configured router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
