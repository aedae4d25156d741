// Package main is the entry point for the genstudio-api server.
// Identity is issued by the configured JWT issuer; balances are topped up
// through Stripe and signup grants arrive through Clerk webhooks.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmylchreest/genstudio-api/internal/auth"
	"github.com/jmylchreest/genstudio-api/internal/catalog"
	"github.com/jmylchreest/genstudio-api/internal/config"
	"github.com/jmylchreest/genstudio-api/internal/database"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/http/handlers"
	"github.com/jmylchreest/genstudio-api/internal/http/mw"
	"github.com/jmylchreest/genstudio-api/internal/http/routes"
	"github.com/jmylchreest/genstudio-api/internal/logging"
	"github.com/jmylchreest/genstudio-api/internal/orchestrator"
	"github.com/jmylchreest/genstudio-api/internal/provider"
	"github.com/jmylchreest/genstudio-api/internal/repository"
	"github.com/jmylchreest/genstudio-api/internal/service"
	"github.com/jmylchreest/genstudio-api/internal/shutdown"
	"github.com/jmylchreest/genstudio-api/internal/telemetry"
	"github.com/jmylchreest/genstudio-api/internal/version"
	"github.com/jmylchreest/genstudio-api/internal/worker"
)

const defaultRequestTimeout = 30 * time.Second

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting genstudio-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "genstudio-api",
		Version:     v.Version,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := openDatabase(ctx, cfg, logger)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	var repos *repository.Repositories
	if db != nil {
		repos = repository.NewRepositories(db)
	}

	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	models, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load model catalog", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistryFromConfig(cfg, logger)
	if missing := models.ServedBy(registry.Has); len(missing) > 0 {
		logger.Error("enabled models have no provider credentials; set them, disable the models or enable mock mode", "providers", missing)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Catalog: models,
		Ledger:  services.Ledger,
		Records: services.Generations,
		Assets:  services.Assets,
		Invoker: registry,
		Guard:   guard.New(cfg.DegradedMode, logger),
		Logger:  logger,
	}, orchestrator.Options{
		Concurrency:       cfg.BatchConcurrency,
		MaxOutputs:        cfg.MaxOutputs,
		RequestTimeout:    cfg.RequestTimeout,
		MockMode:          cfg.MockMode,
		AnonymousIdentity: cfg.AnonymousIdentity,
	})

	// Fail generations orphaned by a previous process or a lost finalize write
	var reaper *worker.Reaper
	if repos != nil {
		reaper = worker.New(services.Generations, worker.Config{
			Interval: cfg.ReaperInterval,
			MaxAge:   cfg.ReaperMaxAge,
		}, logger)
		reaper.Start(ctx)
	}

	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/healthz", "/readyz", "/api/v1/health"},
		InFlight:     orch.InFlight,
	})

	// Identity resolution
	var verifier mw.TokenVerifier
	if cfg.AuthEnabled() {
		verifier = auth.NewVerifier(cfg.AuthJWKSIssuer, cfg.AuthJWTSecret)
		logger.Info("token verification enabled", "jwks_issuer", cfg.AuthJWKSIssuer)
	} else {
		logger.Warn("no AUTH_JWKS_ISSUER or AUTH_JWT_SECRET set - bearer tokens will be rejected")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(idle.Middleware)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Generation gets the pipeline bound plus headroom for the response; asset
	// downloads stream and are bounded by the client.
	generateTimeout := cfg.RequestTimeout + 30*time.Second
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          defaultRequestTimeout,
		Extended:         generateTimeout,
		ExtendedPatterns: []string{"/generate"},
		SkipPatterns:     []string{"/assets/"},
		Logger:           logger,
	}))
	router.Use(mw.ExtendWriteDeadline(generateTimeout, "/generate"))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", mw.HeaderAPIVersion, mw.HeaderProviderMode, mw.HeaderDegradedMode, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - generation inputs are URLs, never uploads
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	router.Use(mw.Identity(mw.IdentityConfig{
		Verifier:          verifier,
		AnonymousIdentity: cfg.AnonymousIdentity,
		Logger:            logger,
	}))
	router.Use(mw.RateLimitByIdentity(mw.DefaultRateLimitConfig()))
	router.Use(mw.ServiceHeaders(mw.ServiceHeadersConfig{
		MockMode:     cfg.MockMode,
		DegradedMode: cfg.DegradedMode,
	}))

	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{
		IsSuperadmin: cfg.IsSuperadmin,
		Logger:       logger,
	}))

	var pinger handlers.DBPinger
	if db != nil {
		pinger = db
	}

	routes.Register(api, &routes.Handlers{
		HealthCheck: handlers.NewHealthCheck(cfg.DegradedMode, cfg.MockMode),
		Livez:       handlers.Livez,
		Readyz:      handlers.NewReadyzHandler(pinger, cfg.DegradedMode).Readyz,
		Generate:    handlers.NewGenerateHandler(orch, logger),
		Generations: handlers.NewGenerationHandler(services.Generations, logger),
		Balance:     handlers.NewBalanceHandler(services.Ledger, logger),
		Models:      handlers.NewModelsHandler(models),
		Admin:       handlers.NewAdminHandler(services.Ledger, logger),
	})

	// Raw routes: streamed asset bodies and signature-verified webhooks
	router.Get(handlers.AssetRoutePattern, handlers.NewAssetHandler(services.Assets, logger).ServeAsset)

	if cfg.BillingEnabled() {
		router.Post("/api/v1/webhooks/stripe", handlers.NewStripeWebhookHandler(cfg, services.Ledger, logger).HandleWebhook)
		logger.Info("stripe webhook endpoint enabled", "credit_packs", len(cfg.CreditPacks))
	}
	if cfg.ClerkWebhookSecret != "" {
		router.Post("/api/v1/webhooks/clerk", handlers.NewClerkWebhookHandler(cfg, services.Ledger, logger).HandleWebhook)
		logger.Info("clerk webhook endpoint enabled", "signup_grant", cfg.SignupGrantCredits)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      otelhttp.NewHandler(router, "genstudio-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	idle.Start()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idle.ShutdownChan():
			logger.Info("shutting down idle server")
		}

		idle.Stop()

		// In-flight generations finish before the process exits: Shutdown
		// waits for their handlers, bounded by the pipeline timeout.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), generateTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		cancel()
		if reaper != nil {
			reaper.Stop()
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"degraded_mode", cfg.DegradedMode,
		"mock_mode", cfg.MockMode,
		"providers", registry.Names(),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openDatabase connects and migrates. In degraded mode a failure is logged
// and nil returned so the server can start without the ledger and records.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) *sql.DB {
	fail := func(msg string, err error) *sql.DB {
		if cfg.DegradedMode {
			logger.Warn(msg+" - continuing in degraded mode", "error", err)
			return nil
		}
		logger.Error(msg, "error", err)
		os.Exit(1)
		return nil
	}

	db, err := database.New(ctx, database.Options{
		DSN:         cfg.DatabaseURL,
		TursoURL:    cfg.TursoURL,
		TursoToken:  cfg.TursoAuthToken,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		return fail("failed to connect to database", err)
	}

	if err := database.Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return fail("failed to run migrations", err)
	}

	if schemaVersion, count, err := database.SchemaVersion(db); err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", count)
	}
	return db
}

// loadCatalog builds the model catalog from the built-in definitions or a
// YAML file, and watches the config bucket for overrides when storage is set.
func loadCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	defs := catalog.Builtin()
	if cfg.ModelCatalogFile != "" {
		fileDefs, err := catalog.LoadFile(cfg.ModelCatalogFile)
		if err != nil {
			return nil, err
		}
		defs = fileDefs
	}

	c, err := catalog.New(defs, logger)
	if err != nil {
		return nil, err
	}

	if cfg.StorageEnabled && cfg.ConfigBucket != "" {
		client, err := service.NewS3Client(ctx, cfg)
		if err != nil {
			logger.Warn("catalog overrides disabled", "error", err)
			return c, nil
		}
		c.UseOverrides(config.NewS3Loader(config.S3LoaderConfig{
			Client: client,
			Bucket: cfg.ConfigBucket,
			Key:    "config/models.json",
			Logger: logger,
		}))
		go c.Watch(ctx, time.Minute)
		logger.Info("catalog overrides enabled", "bucket", cfg.ConfigBucket, "key", "config/models.json")
	}
	return c, nil
}
