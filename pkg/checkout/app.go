// Package checkout assembles the agentic checkout server for embedding in
// another process or serving standalone.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/callbacks"
	"github.com/CedrosPay/checkout/internal/catalog"
	checkoutsvc "github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/httpserver"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/lifecycle"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/payments"
	"github.com/CedrosPay/checkout/internal/storage"
	"github.com/CedrosPay/checkout/internal/vault"
)

// dispatcherDrainTimeout bounds how long Close waits for queued webhooks.
const dispatcherDrainTimeout = 10 * time.Second

// App wires the checkout components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Backends *storage.Backends
	Catalog  catalog.Provider
	Payments payments.Processor
	Vault    *vault.Vault
	Guard    *idempotency.Guard
	Sessions *checkoutsvc.Machine
	Events   *callbacks.Dispatcher // nil when no webhook URL is configured
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	router          chi.Router
	gatherer        prometheus.Gatherer
	sweeper         *storage.Sweeper
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	router    chi.Router
	registry  prometheus.Registerer
	logger    *zerolog.Logger
	processor payments.Processor
	version   string
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegistry registers metrics somewhere other than the default registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &log
	}
}

// WithProcessor injects a payment processor instead of the one selected by cfg.Payments.
func WithProcessor(p payments.Processor) Option {
	return func(o *options) {
		o.processor = p
	}
}

// WithVersion sets the build version reported in logs.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// NewApp opens storage, builds every service and registers the HTTP routes.
// Background sweeping starts immediately; call Close to stop it.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("checkout: config required")
	}

	optState := options{registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}
	if optState.logger != nil {
		app.Logger = *optState.logger
	} else {
		app.Logger = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "checkout",
			Version:     optState.version,
			Environment: cfg.Logging.Environment,
		})
	}
	app.resourceManager.SetLogger(app.Logger)
	app.Metrics = metrics.New(optState.registry)
	if g, ok := optState.registry.(prometheus.Gatherer); ok {
		app.gatherer = g
	}

	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	backends, err := storage.Open(ctx, cfg, app.Metrics)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	app.Backends = backends
	app.resourceManager.Register("storage", backends)
	if cfg.Storage.Backend == "memory" {
		app.Logger.Warn().Msg("checkout.memory_storage: sessions and tokens are lost on restart")
	}

	app.Catalog, err = catalog.NewProvider(ctx, cfg.Catalog, catalog.Backends{
		DB:      backends.DB,
		MongoDB: backends.MongoDB,
		Metrics: app.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	app.resourceManager.Register("catalog", app.Catalog)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, app.Logger)

	if optState.processor != nil {
		app.Payments = optState.processor
	} else {
		app.Payments, err = payments.New(cfg.Payments, breakers, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("payments: %w", err)
		}
	}

	app.Vault = vault.New(backends.Tokens, app.Payments,
		vault.WithRetention(cfg.Vault.Retention.Duration),
		vault.WithMetrics(app.Metrics),
	)
	app.Guard = idempotency.NewGuard(backends.Idempotency,
		idempotency.WithTTL(cfg.Idempotency.TTL.Duration),
		idempotency.WithWaitTimeout(cfg.Idempotency.WaitTimeout.Duration),
		idempotency.WithMetrics(app.Metrics),
	)

	machineOpts := []checkoutsvc.Option{checkoutsvc.WithMetrics(app.Metrics)}
	events, err := newDispatcher(cfg, breakers, app.Metrics, app.Logger)
	switch {
	case errors.Is(err, callbacks.ErrCallbackDisabled):
		app.Logger.Info().Msg("checkout.webhooks_disabled")
	case err != nil:
		return nil, fmt.Errorf("webhooks: %w", err)
	default:
		app.Events = events
		machineOpts = append(machineOpts, checkoutsvc.WithPublisher(events))
		app.resourceManager.RegisterFunc("webhook-dispatcher", func() error {
			drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
			defer cancel()
			return events.Close(drainCtx)
		})
	}

	app.Sessions = checkoutsvc.NewMachine(
		backends.Sessions,
		app.Catalog,
		app.Vault,
		app.Payments,
		checkoutsvc.ConfigFrom(cfg.Checkout),
		machineOpts...,
	)

	var pruner storage.SessionPruner
	if p, ok := backends.Sessions.(storage.SessionPruner); ok {
		pruner = p
	}
	app.sweeper = storage.NewSweeper(app.Vault, app.Guard, pruner, storage.SweeperConfig{
		Interval:         cfg.Vault.CleanupInterval.Duration,
		SessionRetention: cfg.Checkout.SessionRetention.Duration,
	}, app.Logger)
	app.sweeper.Start()
	app.resourceManager.RegisterFunc("sweeper", app.sweeper.Stop)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, cfg, app.dependencies())

	app.Logger.Info().
		Str("storage", cfg.Storage.Backend).
		Str("catalog", cfg.Catalog.Source).
		Str("processor", app.Payments.Name()).
		Bool("webhooks", app.Events != nil).
		Msg("checkout.app_ready")

	ok = true
	return app, nil
}

func newDispatcher(cfg *config.Config, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (*callbacks.Dispatcher, error) {
	if cfg.Callbacks.URL == "" {
		return nil, callbacks.ErrCallbackDisabled
	}
	var dlq callbacks.DLQStore = callbacks.NewMemoryDLQStore()
	if cfg.Callbacks.DLQEnabled {
		store, err := callbacks.NewFileDLQStore(cfg.Callbacks.DLQPath)
		if err != nil {
			return nil, fmt.Errorf("init DLQ store: %w", err)
		}
		dlq = store
	}
	return callbacks.NewDispatcher(cfg.Callbacks,
		callbacks.WithLogger(log),
		callbacks.WithMetrics(m),
		callbacks.WithCircuitBreaker(breakers),
		callbacks.WithDLQStore(dlq),
	)
}

func (a *App) dependencies() httpserver.Dependencies {
	deps := httpserver.Dependencies{
		Sessions: a.Sessions,
		Vault:    a.Vault,
		Guard:    a.Guard,
		Health:   a.Backends,
		Metrics:  a.Metrics,
		Gatherer: a.gatherer,
		Logger:   a.Logger,
	}
	if a.Events != nil {
		deps.Webhooks = a.Events
	}
	return deps
}

// Router returns the chi router with checkout routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server returns a listener for the app's handler using cfg.Server timeouts.
func (a *App) Server() *httpserver.Server {
	return httpserver.NewFromHandler(a.Config, a.router)
}

// Close stops background work, drains queued webhooks and closes storage.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// RegisterRoutes attaches checkout endpoints to the provided router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Config, app.dependencies())
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(ctx context.Context, cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the checkout server.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
