package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"kpiledger/internal/config"
	apierrors "kpiledger/internal/errors"
	"kpiledger/internal/infrastructure"
	customMiddleware "kpiledger/internal/middleware"
	"kpiledger/internal/services"
	"kpiledger/internal/storage"
	handlers "kpiledger/internal/transport/http"
	ws "kpiledger/internal/websocket"
)

const AppName = "kpiledger"

var (
	// Version is set at build time with -ldflags "-X kpiledger/internal/app.Version=..."
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	Store         storage.Store
	WebSocketHub  *ws.Hub
	JobService    *services.JobService
	HealthService *services.HealthService
	Errors        *apierrors.ErrorHandler
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
}

// NewApplication loads configuration from configPath (empty searches the
// default locations), initializes logging and builds the application
func NewApplication(ctx context.Context, configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("store", cfg.Storage.Driver))

	return New(ctx, cfg, logger)
}

// New wires an application from an already loaded configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = Version
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		Errors:        apierrors.NewErrorHandler(logger, false),
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if err := a.initializeServices(ctx); err != nil {
		otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// StoreOptions maps the storage configuration onto store options
func StoreOptions(cfg config.StorageConfig, logger *slog.Logger) storage.Options {
	db := storage.DefaultDBOptions()
	if cfg.MaxOpenConns > 0 {
		db.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		db.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		db.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.PingTimeout > 0 {
		db.PingTimeout = cfg.PingTimeout
	}
	return storage.Options{
		Driver:      cfg.Driver,
		DataDir:     cfg.DataDir,
		DatabaseURL: cfg.DatabaseURL,
		Migrate:     cfg.Migrate,
		DB:          db,
		Logger:      logger,
	}
}

// initializeServices opens the store and builds the services on top of it
func (a *Application) initializeServices(ctx context.Context) error {
	store, err := storage.Open(ctx, StoreOptions(a.Config.Storage, a.Logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.Store = storage.Observed(store, a.Metrics.RecordStoreOperation)

	a.WebSocketHub = ws.NewHub(a.Logger, a.Metrics)

	a.JobService = services.NewJobService(a.Store, services.JobServiceOptions{
		Ingest:       a.Config.Ingest,
		StoreTimeout: a.Config.Storage.Timeout,
		Validator:    customMiddleware.NewValidator(),
		Hub:          a.WebSocketHub,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	})

	a.HealthService = services.NewHealthService(Version, a.Config.Storage.Driver, a.Store, a.WebSocketHub, a.Logger)

	a.Logger.InfoContext(ctx, "Services initialized", slog.String("store", a.Config.Storage.Driver))
	return nil
}

// setupRouter configures the HTTP routes and middleware
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Middleware that does not wrap the ResponseWriter, safe for /ws
	r.Use(customMiddleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(a.Errors.Recoverer)

	r.NotFound(a.Errors.NotFound)
	r.MethodNotAllowed(a.Errors.MethodNotAllowed)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.allowedOrigins(), a.Errors))

	// Scraped often, kept outside the logged group
	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.Errors))

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → Security → CORS → RateLimit → Timeout
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.getCORSConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Errors,
				a.Logger,
			).Handler)
		}
		if a.Config.Server.RequestTimeout > 0 {
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
		}

		a.setupAPIRoutes(r)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Mount("/health", healthHandler.Routes())
		r.Get("/version", healthHandler.Version)

		jobHandler := handlers.NewJobHandler(
			a.JobService,
			customMiddleware.NewValidator(),
			a.Errors,
			a.Config.Server.MaxUploadBytes,
			a.Logger,
		)
		r.With(customMiddleware.MaxBodySize(a.Config.Server.MaxUploadBytes)).Mount("/jobs", jobHandler.Routes())
	})
}

func (a *Application) allowedOrigins() []string {
	origins := []string{
		fmt.Sprintf("http://localhost:%d", a.Config.Server.Port),
		fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port),
	}
	return append(origins, a.Config.Security.AllowedOrigins...)
}

func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	cfg := customMiddleware.CORSConfig{
		AllowedOrigins: a.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Filename",
			customMiddleware.RequestIDHeader,
		},
		ExposedHeaders: []string{
			customMiddleware.RequestIDHeader,
			"Location",
			"Retry-After",
			"Content-Disposition",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}

	a.Logger.Info("CORS configured", slog.Any("allowed_origins", cfg.AllowedOrigins))
	return cfg
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Run listens on the configured port and serves until ctx is cancelled
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		a.Close(ctx)
		return fmt.Errorf("listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the websocket hub and the HTTP server on ln until ctx is
// cancelled or either of them fails, then shuts everything down.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.WebSocketHub.Run(gctx)
	})

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Server listening",
			slog.String("address", ln.Addr().String()),
			slog.String("version", Version))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(context.WithoutCancel(ctx), "Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := a.Close(context.WithoutCancel(ctx)); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the store and flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.shutdownTimeout())
	defer cancel()

	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
