package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/ledgerlink/backend/internal/bootstrap"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"github.com/ledgerlink/backend/internal/interfaces/http/handler"
	"github.com/ledgerlink/backend/internal/interfaces/http/middleware"
	"github.com/ledgerlink/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "dev"

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ledgerlink",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", Version),
	)

	ctx := context.Background()

	// Telemetry
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}
	providers, err := telemetry.Setup(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		_ = providers.Shutdown(context.Background())
	}()

	meter := providers.Meter()
	metrics, err := telemetry.NewCoordinatorMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create coordinator metrics", zap.Error(err))
	}

	// Stores, pools and services
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.WithMetrics(metrics))
	if err != nil {
		log.Fatal("Failed to initialize coordinator", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("Error closing coordinator", zap.Error(err))
		}
	}()

	// Orphan audit
	auditScheduler, err := app.AuditScheduler()
	if err != nil {
		log.Fatal("Failed to create audit scheduler", zap.Error(err))
	}
	if err := auditScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start audit scheduler", zap.Error(err))
	}
	defer func() {
		if err := auditScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping audit scheduler", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	documentHandler := handler.NewDocumentHandler(app.Documents)
	reconciliationHandler := handler.NewReconciliationHandler(app.Documents)
	systemHandler := handler.NewSystemHandler(Version, app.Pools)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Logger - Log requests with request ID
	// 3. Recovery - Recover from panics
	// 4. Tracing - Route spans, enriched from inside the chain
	// 5. HTTPMetrics - Request counters and latency
	// 6. CORS, Secure, BodyLimit, Timeout
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanEnricher())
	engine.Use(middleware.HTTPMetrics(meter, cfg.Telemetry.Enabled))
	engine.Use(middleware.CORS(cfg.HTTP.CORSAllowOrigins))
	engine.Use(middleware.Secure(cfg.HTTP.HSTSMaxAge))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))

	var apiMiddleware []gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(app.Usage))
	}
	router.New(engine, router.DefaultVersion, apiMiddleware...).
		Mount(documentHandler, reconciliationHandler, systemHandler)

	// Health stays outside /api so probes are never rate limited
	engine.GET("/health", systemHandler.Health)

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
