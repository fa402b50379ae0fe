// Package main is the entry point for the proctoring service API.
//
// proctord serves the attempt lifecycle over REST:
// - Attempt creation, start, submit, and review transitions
// - The status summary poll that exam-player clients hit every few seconds
// - Staff review and override endpoints
// - The background sweep that times out overdue attempts
//
// Everything that changes an attempt goes through the transition engine,
// so every caller gets the same legality rules and side effects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proctorhub/proctoring-service/config"
	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/application/eventhandler"
	"github.com/proctorhub/proctoring-service/internal/application/query"
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
	"github.com/proctorhub/proctoring-service/internal/interface/http"
	"github.com/proctorhub/proctoring-service/internal/interface/http/handlers"
	"github.com/proctorhub/proctoring-service/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	rollback := flag.Bool("rollback-migration", false,
		"revert the most recently applied schema migration and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *rollback); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rollbackOnly bool) error {
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
	log.Info("starting proctoring service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
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

	migrator := postgres.NewMigrator(dbConn)
	if rollbackOnly {
		log.Info("rolling back most recent migration...")
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("rollback complete")
		return nil
	}

	log.Info("checking database migrations...")
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (summary cache, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var redisSummaries *redis.SummaryCache
	var sessionTracker *redis.SessionTracker

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			// The service degrades to database reads on every poll.
			log.Warn("failed to connect to Redis, summary caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			redisSummaries = redis.NewSummaryCache(redisCache)
			sessionTracker = redis.NewSessionTracker(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	examRepo := postgres.NewExamRepository(dbConn)
	policyRepo := postgres.NewReviewPolicyRepository(dbConn)
	allowanceRepo := postgres.NewAllowanceRepository(dbConn)
	attemptRepo := postgres.NewAttemptRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EXTERNAL CLIENTS (LMS API)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing LMS client...")
	lmsCfg := lms.DefaultClientConfig(cfg.LMS.BaseURL)
	lmsCfg.APIKey = cfg.LMS.APIKey
	lmsCfg.Timeout = cfg.LMS.RequestTimeout
	lmsCfg.Logger = log
	lmsCfg.Debug = cfg.App.Debug
	lmsClient := lms.NewClient(lmsCfg)

	creditService := service.NewCreditAdapter(lmsClient)
	gradesService := service.NewGradesAdapter(lmsClient)
	certificates := service.NewCertificatesAdapter(lmsClient)

	var emailSink notification.Sink = service.NewEmailSink(lmsClient, log)
	if !cfg.Features.IsEnabled(config.FeatureStatusEmails, nil) {
		emailSink = service.NewLoggingSink(log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. PROCTORING BACKENDS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering proctoring backends...", "default", cfg.Backends.DefaultBackend)
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
		vendorCfg.Debug = cfg.App.Debug

		registry.Register(v.Name, restvendor.NewClient(vendorCfg))
		log.Info("registered proctoring backend", "backend", v.Name, "base_url", v.BaseURL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EVENT BUS AND DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.AsyncMode = true

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
		log.Info("event bus: redis pub/sub", "channel", cfg.Redis.EventChannel)
	} else {
		memBus := messaging.NewInMemoryEventBus(busCfg)
		eventBus = memBus
		closeBus = memBus.Close
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	dispatcherCfg := messaging.DefaultDispatcherConfig(eventBus)
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)
	dispatcher.Use(messaging.RecoveryMiddleware(log))

	if redisSummaries != nil {
		invalidator := eventhandler.NewOnAttemptStatusChangedHandler(redisSummaries, log)
		if err := dispatcher.Register(shared.EventAttemptStatusChanged, "summary_cache_invalidation", invalidator.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
		if err := dispatcher.Register(shared.EventAttemptRemoved, "summary_cache_invalidation", invalidator.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
	}

	if sessionTracker != nil {
		sessionHandler := eventhandler.NewOnSessionActivityHandler(
			service.NewSessionTrackerAdapter(sessionTracker), log)
		if err := dispatcher.Register(shared.EventAttemptStatusChanged, "live_session_index", sessionHandler.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
		if err := dispatcher.Register(shared.EventAttemptRemoved, "live_session_index", sessionHandler.Handle); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping event dispatcher...")
		_ = dispatcher.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. APPLICATION HANDLERS (CQRS)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application handlers...")

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

	createHandler := command.NewCreateExamAttemptHandler(
		attemptRepo, examRepo, policyRepo, allowanceRepo,
		statusHandler, registry, eventBus, nil, log,
		[]byte(cfg.Backends.ObscureSecret),
	)

	attemptActions := command.NewAttemptActions(attemptRepo, statusHandler)
	removeHandler := command.NewRemoveExamAttemptHandler(
		attemptRepo, examRepo, creditService, gradesService, eventBus, log)
	resetPracticeHandler := command.NewResetPracticeExamHandler(attemptRepo, examRepo, log)

	var summaryCache query.SummaryCache
	if redisSummaries != nil && cfg.Features.IsEnabled(config.FeatureSummaryCache, nil) {
		summaryCache = service.NewSummaryCacheAdapter(redisSummaries)
	}

	summaryHandler := query.NewGetAttemptStatusSummaryHandler(
		attemptRepo, examRepo, summaryCache, registry, statusHandler, nil, log,
		cfg.Features.IsEnabled(config.FeatureInlineTimeoutCheck, nil),
	)

	prerequisitesHandler := query.NewCheckPrerequisitesHandler(
		examRepo, attemptRepo, creditService, createHandler, statusHandler, log,
		cfg.LMS.PrereqExcludedNamespaces,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULER (attempt expiry sweep)
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	var expireJob *jobs.ExpireAttemptsJob
	if cfg.Scheduler.Enabled {
		log.Info("starting scheduler...", "expire_interval", cfg.Scheduler.ExpireInterval.String())
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   log,
			Timezone: time.UTC,
		})

		expireJob = jobs.NewExpireAttemptsJob(attemptRepo, attemptActions, nil, log,
			jobs.ExpireAttemptsConfig{
				BatchSize: cfg.Scheduler.ExpireBatchSize,
				Timeout:   cfg.Scheduler.JobTimeout,
			})
		schedule := scheduler.Schedule(scheduler.NewIntervalSchedule(cfg.Scheduler.ExpireInterval))
		if cfg.Scheduler.ExpireCron != "" {
			expr, err := scheduler.ParseCronExpression(cfg.Scheduler.ExpireCron)
			if err != nil {
				return fmt.Errorf("invalid SCHEDULER_EXPIRE_CRON: %w", err)
			}
			schedule = expr
		}
		if err := sched.Register(expireJob, schedule); err != nil {
			return fmt.Errorf("failed to register expiry sweep: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	} else {
		log.Warn("scheduler disabled, overdue attempts will not be timed out")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	if redisCache != nil {
		healthChecker.AddCheck("cache", handlers.NewCacheCheck(redisCache))
	}
	healthChecker.AddCheck("lms_api", handlers.NewExternalAPICheck(lmsClient))
	if expireJob != nil {
		healthChecker.AddCheck("expiry_sweep", handlers.NewSweepCheck(func() (time.Time, bool) {
			stats := expireJob.LastRunStats()
			if stats == nil {
				return time.Time{}, false
			}
			return stats.RanAt, true
		}, 10*cfg.Scheduler.ExpireInterval))
	}

	var sessionLister http.SessionLister
	if sessionTracker != nil {
		sessionLister = sessionTracker
	}

	var staffAuth *handlers.APIKeyAuth
	if len(cfg.HTTP.APIKeys) > 0 {
		staffAuth = handlers.NewAPIKeyAuth(cfg.HTTP.APIKeyHeader, cfg.HTTP.APIKeys)
	} else if cfg.IsProduction() {
		log.Warn("no staff API keys configured, staff endpoints are unauthenticated")
	}

	httpLog := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	}).With(logger.String("component", "http"))

	server := http.NewServer(http.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		EnableCORS:         cfg.HTTP.EnableCORS,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
		APIKeyHeader:       cfg.HTTP.APIKeyHeader,
		APIKeys:            cfg.HTTP.APIKeys,
	}, http.Dependencies{
		CreateAttemptHandler: createHandler,
		StatusHandler:        statusHandler,
		AttemptActions:       attemptActions,
		RemoveAttemptHandler: removeHandler,
		ResetPracticeHandler: resetPracticeHandler,
		SummaryHandler:       summaryHandler,
		PrerequisitesHandler: prerequisitesHandler,
		Logger:               httpLog,
		HealthChecker:        healthChecker,
		StaffAuth:            staffAuth,
		Sessions:             sessionLister,
	})

	errCh := server.StartAsync()
	log.Info("proctoring service is running",
		"host", cfg.HTTP.Host,
		"port", cfg.HTTP.Port,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
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
