package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/db"
	"quorum/internal/logging"
	"quorum/internal/ratelimit"
	"quorum/internal/router"
	"quorum/internal/services"
	"quorum/internal/telemetry"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()
	logger := logging.GetLogger()

	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()
	metrics := telemetry.NewMetrics()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	store := db.NewStore(database.DB)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter, closeLimiter, err := newLimiter(rootCtx, cfg)
	if err != nil {
		logger.Fatal("Failed to create rate limiter", zap.Error(err))
	}
	defer closeLimiter()

	svc := services.New(store, limiter, cfg, metrics)
	svc.Start()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := router.Deps{
		Config:   cfg,
		Services: svc,
		Store:    store,
		Limiter:  limiter,
		Metrics:  metrics,
		Health:   database.Health,
	}
	if cfg.Telemetry.PrometheusEnabled {
		deps.MetricsHandler = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router.New(deps),
	}

	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// handlers are done; flush the notifications and audit entries they queued
	if err := svc.Shutdown(ctx); err != nil {
		logger.Error("Background tasks did not drain", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newLimiter builds the configured rate limiter backend. The memory backend
// sweeps expired keys until ctx is cancelled.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimit.Backend == "redis" {
		l, err := ratelimit.NewRedisLimiter(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	}

	l, err := ratelimit.NewMemoryLimiter(cfg.RateLimit.Shards, cfg.RateLimit.ShardCapacity)
	if err != nil {
		return nil, nil, err
	}
	go l.RunSweeper(ctx, cfg.RateLimit.SweepInterval)
	return l, func() {}, nil
}
