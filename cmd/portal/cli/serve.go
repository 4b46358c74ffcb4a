package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/barangay-portal/portal/internal/app"
	"github.com/barangay-portal/portal/internal/calendar"
	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/observability"
	"github.com/barangay-portal/portal/internal/platform/cache"
	"github.com/barangay-portal/portal/internal/platform/db"
	"github.com/barangay-portal/portal/internal/prefetch"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/rbac"
	"github.com/barangay-portal/portal/internal/sessionapi"
	"github.com/barangay-portal/portal/internal/shared"
	"github.com/barangay-portal/portal/jobs"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(ctx, cfg, app.NewLogger(cfg))
		},
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
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

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	profileRepo := profiles.NewRepository(pool)
	identityService := identity.NewService(identity.NewRepository(pool), cfg.AuthJWTSecret, logger)

	prefetchCache := prefetch.NewCache(redisClient, cfg.PrefetchTTL)
	prefetchCache.ListenForInvalidation(ctx)
	prefetchService := prefetch.NewService(prefetch.NewSource(pool), prefetchCache, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	scheduler := app.NewScheduler(logger)
	registry := sessionapi.NewRegistry(sessionapi.NewFactory(gate.Deps{
		Profiles:     profileRepo,
		Settings:     profileRepo,
		Provider:     identityService,
		Prefetch:     prefetchService,
		Beacon:       jobClient,
		Audit:        shared.NewAuditLogger(pool),
		Metrics:      metrics,
		Scheduler:    scheduler,
		Logger:       logger,
		PollInterval: cfg.GatePollInterval,
	}, sessionManager), logger, cfg.SessionIdle)
	defer registry.Close()
	metrics.TrackTabs(registry.Len)

	guard := rbac.Middleware{Source: registry, Logger: logger}
	calendarService := calendar.NewService(calendar.NewRepository(pool), logger, cfg.Location())
	idempotency := shared.NewIdempotencyStore(pool)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      identity.NewHandler(logger, identityService, cfg.AuthTokenTTL),
		SessionHandler:   sessionapi.NewHandler(logger, registry, sessionManager, csrfManager, identityService),
		CalendarHandler:  calendar.NewHandler(logger, calendarService, guard).WithIdempotency(idempotency),
		DashboardHandler: prefetch.NewHandler(logger, prefetchService, guard),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	if err := app.ScheduleMaintenance(ctx, scheduler, logger,
		app.Maintenance{
			Name: "session-sweep",
			Spec: "@every " + cfg.SessionSweepEvery.String(),
			Run: func(ctx context.Context) error {
				registry.Sweep()
				return nil
			},
		},
		app.Maintenance{
			Name: "idempotency-cleanup",
			Spec: "@daily",
			Run: func(ctx context.Context) error {
				return idempotency.Cleanup(ctx, 72*time.Hour)
			},
		},
	); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
