package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/barangay-portal/portal/internal/app"
	jobmetrics "github.com/barangay-portal/portal/internal/jobs"
	"github.com/barangay-portal/portal/internal/platform/cache"
	"github.com/barangay-portal/portal/internal/platform/db"
	"github.com/barangay-portal/portal/internal/prefetch"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	prefetchService := prefetch.NewService(prefetch.NewSource(pool), prefetch.NewCache(redisClient, cfg.PrefetchTTL), logger)
	warmupJob := jobs.NewPrefetchWarmupJob(prefetchService, logger, metrics)
	offlineJob := jobs.NewPresenceOfflineJob(profiles.NewRepository(pool), logger, metrics)

	warmupTask, err := jobs.NewPrefetchWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPresenceOffline, Handler: offlineJob.Handle},
			{Type: jobs.TaskPrefetchWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PrefetchWarmupCron, Task: warmupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
