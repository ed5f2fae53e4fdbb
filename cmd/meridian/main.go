package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-commerce/meridian/internal/admission"
	"github.com/meridian-commerce/meridian/internal/app"
	"github.com/meridian-commerce/meridian/internal/auth"
	"github.com/meridian-commerce/meridian/internal/authz"
	"github.com/meridian-commerce/meridian/internal/modules"
	"github.com/meridian-commerce/meridian/internal/observability"
	"github.com/meridian-commerce/meridian/internal/platform/cache"
	"github.com/meridian-commerce/meridian/internal/platform/db"
	"github.com/meridian-commerce/meridian/internal/presets"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
	"github.com/meridian-commerce/meridian/internal/shared"
	"github.com/meridian-commerce/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	limiter := ratelimit.NewLimiter(ratelimit.NewRepository(dbpool))
	catalogRepo := ratelimit.NewCatalogRepository(dbpool)
	catalog := ratelimit.NewCatalog(catalogRepo, redisClient, cfg.CatalogCacheTTL)

	authzService := authz.NewService(authz.NewRepository(dbpool))
	guard := admission.Guard{
		Authz:   authzService,
		Limiter: limiter,
		Catalog: catalog,
		Metrics: metrics,
		Logger:  logger,
	}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, cfg.SessionTTL)
	authHandler := auth.NewHandler(logger, authService, limiter, metrics)

	modulesCache := modules.NewCache(redisClient, 10*time.Minute)
	modulesService := modules.NewService(modules.NewRepository(dbpool), modulesCache, logger)
	modulesHandler := modules.NewHandler(logger, modulesService, guard, auditLogger)

	presetsService := presets.NewService(presets.NewRepository(dbpool), modulesService)
	presetsHandler := presets.NewHandler(logger, presetsService, guard, auditLogger)

	rateLimitHandler := admission.NewHandler(logger, guard, catalogRepo, auditLogger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      authHandler,
		ModulesHandler:   modulesHandler,
		PresetsHandler:   presetsHandler,
		RateLimitHandler: rateLimitHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
