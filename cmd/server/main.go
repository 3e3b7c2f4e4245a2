package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextconvert/compositor/internal/api"
	"github.com/nextconvert/compositor/internal/api/websocket"
	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/database"
	"github.com/nextconvert/compositor/internal/shared/logging"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting compositor API server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	// Postgres is optional; the API only reads live status from Redis.
	var db *database.Postgres
	if cfg.DatabaseURL != "" {
		db, err = database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
	}

	redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	registry, err := platform.LoadOverrides(cfg.Render.ProfilesFile, platform.DefaultRegistry())
	if err != nil {
		logger.Fatal("Failed to load platform profiles", zap.Error(err))
	}

	// WebSocket hub fed by the workers' status channel
	wsHub := websocket.NewHub(cfg.AllowedOrigins, logger, m)
	go wsHub.Run(ctx)
	go func() {
		if err := wsHub.RelayRedis(ctx, redisClient); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Status relay stopped", zap.Error(err))
		}
	}()

	redisOpt, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis address", zap.Error(err))
	}
	queue := jobs.NewQueueClient(redisOpt, logger)
	defer queue.Close()

	statuses := jobs.NewRedisStatusStore(redisClient, 0)

	server := api.NewServer(api.ServerConfig{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		DB:       db,
		Redis:    redisClient,
		Registry: registry,
		Queue:    queue,
		Statuses: statuses,
		Reader:   statuses,
		WSHub:    wsHub,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
