package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/database"
	"github.com/nextconvert/compositor/internal/shared/logging"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const sweepInterval = 30 * time.Minute

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

	logger.Info("Starting compositor worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	sinks := []jobs.StatusSink{
		jobs.NewRedisStatusStore(redisClient, 0),
		jobs.NewMetricsSink(m),
	}
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		sinks = append(sinks, jobs.NewPostgresRecorder(db))
	}

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	registry, err := platform.LoadOverrides(cfg.Render.ProfilesFile, platform.DefaultRegistry())
	if err != nil {
		logger.Fatal("Failed to load platform profiles", zap.Error(err))
	}

	renderer, workspaces, err := render.NewFromConfig(cfg.Render, render.SetupOptions{
		Registry: registry,
		Storage:  storageService,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		logger.Fatal("Failed to initialize renderer", zap.Error(err))
	}

	// Leftovers from a previous crash
	if n, err := workspaces.SweepStale(cfg.Render.SweepMaxAge); err != nil {
		logger.Warn("Startup sweep failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Removed stale workspaces", zap.Int("count", n))
	}

	orchestrator := jobs.NewOrchestrator(renderer, logger, m, sinks...)
	handler := jobs.NewHandler(jobs.HandlerConfig{
		Orchestrator:     orchestrator,
		Sweeper:          workspaces,
		BatchConcurrency: cfg.Render.BatchConcurrency,
		BatchMaxJobs:     cfg.Render.BatchMaxJobs,
		SweepMaxAge:      cfg.Render.SweepMaxAge,
		Logger:           logger,
	})

	redisOpt, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis address", zap.Error(err))
	}

	// Configure Asynq server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				jobs.QueueCritical: 6,
				jobs.QueueDefault:  3,
				jobs.QueueLow:      1,
			},
			ShutdownTimeout: cfg.Render.KillGrace + 5*time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	handler.Register(mux)

	scheduler, err := jobs.NewSweepScheduler(redisOpt, sweepInterval, cfg.Render.SweepMaxAge)
	if err != nil {
		logger.Fatal("Failed to create sweep scheduler", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start sweep scheduler", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	if err := srv.Start(mux); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
	logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	<-ctx.Done()

	logger.Info("Shutting down worker...")
	srv.Shutdown()
	scheduler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}
