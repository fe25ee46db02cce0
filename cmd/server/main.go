package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	appintegration "github.com/gobbleclark/packr-cursor-sub005/internal/application/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/cache"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/config"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/logger"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/scheduler"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/telemetry"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/wms"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/handler"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/middleware"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/router"
)

//	@title			Packr WMS Sync API
//	@version		1.0
//	@description	Keeps tenant order, shipment, product, inventory and inbound data in step with the warehouse management system.

//	@BasePath	/api/v1

const serviceVersion = telemetry.ServiceVersion

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting WMS sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("vendor", cfg.Source.Vendor),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log, cfg.Telemetry.ServiceName)

	syncMetrics, err := telemetry.NewSyncMetrics(mp.Meter(telemetry.SyncMeterName))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, persistence.Options{
		LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	// Webhook delivery claims
	claims, err := cache.NewClaimStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create webhook claim store", zap.Error(err))
	}

	// Repositories
	tenantDirectory := persistence.NewGormTenantDirectory(db.DB)
	recordRepo := persistence.NewGormExternalRecordRepository(db.DB)
	syncStateRepo := persistence.NewGormSyncStateRepository(db.DB)
	webhookEventRepo := persistence.NewGormWebhookEventRepository(db.DB)

	// Source adapters
	sourceAdapter, err := wms.NewHTTPSourceAdapter(wms.NewConfigFromSource(cfg.Source), log)
	if err != nil {
		log.Fatal("Failed to create WMS source adapter", zap.Error(err))
	}
	adapters := wms.NewRegistry(sourceAdapter)

	// Services
	reconciler := appintegration.NewReconciliationService(
		recordRepo,
		integration.NewStatusMapper(nil),
		log,
		appintegration.WithMaxRecordErrors(cfg.Sync.MaxRecordErrors),
		appintegration.WithSyncMetrics(syncMetrics),
	)

	webhookService := appintegration.NewWebhookService(
		appintegration.WebhookConfig{
			Vendor:   integration.VendorCode(cfg.Source.Vendor),
			Secret:   cfg.Webhook.Secret,
			ClaimTTL: cfg.Webhook.ClaimTTL,
		},
		adapters,
		tenantDirectory,
		webhookEventRepo,
		claims,
		reconciler,
		syncMetrics,
		log,
	)

	executor := scheduler.NewSyncExecutor(
		scheduler.ExecutorConfig{
			StaleRunningAfter:  cfg.Sync.StaleRunningAfter,
			RetryInterval:      cfg.Sync.RetryInterval,
			ReconcileBatchSize: cfg.Sync.ReconcileBatchSize,
			MaxRecordErrors:    cfg.Sync.MaxRecordErrors,
		},
		syncStateRepo,
		adapters,
		reconciler,
		syncMetrics,
		log,
	)

	syncScheduler, err := scheduler.NewSyncScheduler(
		scheduler.SchedulerConfigFromConfig(cfg.Sync),
		executor,
		tenantDirectory,
		syncStateRepo,
		log,
	)
	if err != nil {
		log.Fatal("Failed to create sync scheduler", zap.Error(err))
	}
	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}

	// Handlers
	syncHandler := handler.NewSyncHandler(syncScheduler, syncStateRepo, tenantDirectory)
	webhookHandler := handler.NewWMSWebhookHandler(webhookService, cfg.Webhook.SignatureHeader)

	healthHandler := handler.NewHealthHandler(cfg.App.Name, serviceVersion)
	healthHandler.AddCheck("database", db.Ping)
	if pinger, ok := claims.(interface{ Ping(context.Context) error }); ok {
		healthHandler.AddCheck("redis", pinger.Ping)
	}

	// HTTP engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Failed to set trusted proxies", zap.Error(err))
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetricsWithMeter(mp.Meter(middleware.HTTPMeterName), mp.IsEnabled()))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	engine.GET("/health", healthHandler.Health)
	engine.GET("/ready", healthHandler.Ready)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Vendor pushes land outside the versioned API
	webhookRoutes := router.NewDomainGroup("/webhooks")
	webhookRoutes.Use(middleware.BodyLimit(cfg.Webhook.MaxBodySize))
	webhookRoutes.POST("/wms", webhookHandler.HandleWebhook)

	syncLimiter := middleware.NewRateLimiter(cfg.HTTP.ManualSyncPerMinute, cfg.HTTP.ManualSyncBurst)
	defer syncLimiter.Close()

	tenantRoutes := router.NewDomainGroup("/tenants")
	tenantRoutes.POST("/:id/sync", middleware.RateLimitByKey(syncLimiter, middleware.TenantKey), syncHandler.TriggerSync)
	tenantRoutes.GET("/:id/sync-status", syncHandler.GetSyncStatus)
	tenantRoutes.GET("/:id/sync-runs", syncHandler.GetSyncRuns)
	tenantRoutes.DELETE("/:id/sync-state", syncHandler.PurgeSyncState)

	syncRoutes := router.NewDomainGroup("/sync")
	syncRoutes.GET("/scheduler", syncHandler.GetSchedulerStats)

	r.Register(tenantRoutes).
		Register(syncRoutes).
		RegisterRoot(webhookRoutes).
		RegisterRoot(tenantRoutes)

	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	// Stop accepting requests first, then let in-flight syncs finish
	err = multierr.Combine(
		srv.Shutdown(shutdownCtx),
		syncScheduler.Stop(shutdownCtx),
		claims.Close(),
		mp.Shutdown(shutdownCtx),
		tp.Shutdown(shutdownCtx),
		lp.Shutdown(shutdownCtx),
	)
	if err != nil {
		log.Error("Shutdown finished with errors", zap.Errors("errors", multierr.Errors(err)))
		return
	}

	log.Info("Server exited gracefully")
}
