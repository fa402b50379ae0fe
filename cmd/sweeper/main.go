// Package main is the entry point for the attempt expiry sweeper.
//
// The sweeper runs the overdue-attempt sweep without serving HTTP. Deploy
// it when the API nodes run with SCHEDULER_ENABLED=false, so exactly one
// process owns the sweep. Every timeout still goes through the transition
// engine, so vendor sessions are terminated and credit, grade, and email
// effects fire the same as for an interactive submit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proctorhub/proctoring-service/config"
	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/application/eventhandler"
	"github.com/proctorhub/proctoring-service/internal/domain/notification"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends/null"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends/restvendor"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/external/lms"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/messaging"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/persistence/postgres"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/persistence/redis"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/scheduler"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/scheduler/jobs"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/service"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting attempt expiry sweeper",
		"env", cfg.App.Environment,
		"interval", cfg.Scheduler.ExpireInterval.String(),
		"batch_size", cfg.Scheduler.ExpireBatchSize,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// The API nodes own migrations; the sweeper only verifies the schema
	// is already current.
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (summary cache invalidation, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var redisSummaries *redis.SummaryCache
	var sessionTracker *redis.SessionTracker

	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, stale summaries will age out by TTL", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			redisSummaries = redis.NewSummaryCache(redisCache)
			sessionTracker = redis.NewSessionTracker(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES AND EXTERNAL CLIENTS
	// ─────────────────────────────────────────────────────────────────────────
	examRepo := postgres.NewExamRepository(dbConn)
	allowanceRepo := postgres.NewAllowanceRepository(dbConn)
	attemptRepo := postgres.NewAttemptRepository(dbConn)

	lmsCfg := lms.DefaultClientConfig(cfg.LMS.BaseURL)
	lmsCfg.APIKey = cfg.LMS.APIKey
	lmsCfg.Timeout = cfg.LMS.RequestTimeout
	lmsCfg.Logger = log
	lmsClient := lms.NewClient(lmsCfg)

	creditService := service.NewCreditAdapter(lmsClient)
	gradesService := service.NewGradesAdapter(lmsClient)
	certificates := service.NewCertificatesAdapter(lmsClient)

	var emailSink notification.Sink = service.NewEmailSink(lmsClient, log)
	if !cfg.Features.IsEnabled(config.FeatureStatusEmails, nil) {
		emailSink = service.NewLoggingSink(log)
	}

	registry := backends.NewRegistry(cfg.Backends.DefaultBackend)
	registry.Register("null", null.New())
	for _, v := range cfg.Backends.Vendors {
		vendorCfg := restvendor.DefaultClientConfig(v.Name, v.BaseURL)
		vendorCfg.VerboseName = v.VerboseName
		vendorCfg.APIKey = v.APIKey
		vendorCfg.Timeout = v.RequestTimeout
		vendorCfg.PingInterval = v.PingInterval
		vendorCfg.SupportsOnboarding = v.SupportsOnboarding
		vendorCfg.HasDashboard = v.HasDashboard
		vendorCfg.BlockExamMaterial = v.BlockExamMaterial
		vendorCfg.RateLimit.RequestsPerSecond = v.RateLimitPerSecond
		vendorCfg.RateLimit.BurstSize = v.RateLimitBurst
		vendorCfg.Logger = log
		registry.Register(v.Name, restvendor.NewClient(vendorCfg))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log

	// With a shared channel configured, timed_out transitions reach the
	// web instances so their caches and session indexes stay honest.
	var eventBus shared.EventBus
	var closeBus func() error
	if redisCache != nil && cfg.Redis.EventChannel != "" {
		redisBus, busErr := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewCachePubSub(redisCache),
			ChannelName:    cfg.Redis.EventChannel,
			LocalBusConfig: busCfg,
			Logger:         log,
		})
		if busErr != nil {
			return fmt.Errorf("failed to start redis event bus: %w", busErr)
		}
		eventBus = redisBus
		closeBus = redisBus.Close
	} else {
		memBus := messaging.NewInMemoryEventBus(busCfg)
		eventBus = memBus
		closeBus = memBus.Close
	}
	defer func() { _ = closeBus() }()

	dispatcherCfg := messaging.DefaultDispatcherConfig(eventBus)
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)
	dispatcher.Use(messaging.RecoveryMiddleware(log))

	if redisSummaries != nil {
		invalidator := eventhandler.NewOnAttemptStatusChangedHandler(redisSummaries, log)
		if err := dispatcher.Register(shared.EventAttemptStatusChanged, "summary_cache_invalidation", invalidator.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
	}

	if sessionTracker != nil {
		sessionHandler := eventhandler.NewOnSessionActivityHandler(
			service.NewSessionTrackerAdapter(sessionTracker), log)
		if err := dispatcher.Register(shared.EventAttemptStatusChanged, "live_session_index", sessionHandler.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. TRANSITION ENGINE AND SWEEP JOB
	// ─────────────────────────────────────────────────────────────────────────
	statusHandler := command.NewUpdateAttemptStatusHandler(
		attemptRepo, examRepo, allowanceRepo,
		creditService, gradesService, certificates, emailSink,
		registry, eventBus, nil, log,
		command.UpdateAttemptStatusConfig{
			AllowTimedOutState:             cfg.Features.IsEnabled(config.FeatureTimedOutState, nil),
			SendStatusEmails:               cfg.Features.IsEnabled(config.FeatureStatusEmails, nil),
			DisableGradeOverrides:          !cfg.Features.IsEnabled(config.FeatureGradeOverrides, nil),
			DisableCertificateInvalidation: !cfg.Features.IsEnabled(config.FeatureCertificateInvalidation, nil),
		},
	)
	attemptActions := command.NewAttemptActions(attemptRepo, statusHandler)

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: time.UTC,
	})

	expireJob := jobs.NewExpireAttemptsJob(attemptRepo, attemptActions, nil, log,
		jobs.ExpireAttemptsConfig{
			BatchSize: cfg.Scheduler.ExpireBatchSize,
			Timeout:   cfg.Scheduler.JobTimeout,
		})
	schedule, err := expireSchedule(cfg.Scheduler)
	if err != nil {
		return err
	}
	if err := sched.Register(expireJob, schedule); err != nil {
		return fmt.Errorf("failed to register expiry sweep: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("expiry sweeper is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	log.Info("stopping scheduler...")
	_ = sched.Stop()

	if info, err := sched.GetJobInfo(expireJob.Name()); err == nil {
		log.Info("expiry sweep totals",
			"runs", info.RunCount,
			"failures", info.FailCount,
		)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging for the process.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// expireSchedule builds the sweep schedule: a cron expression when one is
// configured, the rolling interval otherwise.
func expireSchedule(cfg config.SchedulerConfig) (scheduler.Schedule, error) {
	if cfg.ExpireCron != "" {
		expr, err := scheduler.ParseCronExpression(cfg.ExpireCron)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_EXPIRE_CRON: %w", err)
		}
		return expr, nil
	}
	return scheduler.NewIntervalSchedule(cfg.ExpireInterval), nil
}
