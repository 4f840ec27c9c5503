// Package main - точка входа HTTP API Shadow Ranch.
//
// Сервис хранит прогресс учеников по курсу (челленджи и модули) и выпускает
// достижения за завершённые модули через сервис token-metadata.
//
// Слои:
// - Domain: кодек битсетов, запись прогресса, правила выдачи достижений
// - Application: команды и запросы
// - Infrastructure: PostgreSQL/SQLite, Redis, клиент token-metadata
// - Interface: HTTP API
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/shadow-ranch/config"

	// Application layer
	"github.com/alem-hub/shadow-ranch/internal/application/command"
	"github.com/alem-hub/shadow-ranch/internal/application/query"

	// Domain layer
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"

	// Infrastructure layer
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/external/tokenmeta"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/messaging"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/scheduler"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/service"

	// Interface layer
	httpserver "github.com/alem-hub/shadow-ranch/internal/interface/http"
	"github.com/alem-hub/shadow-ranch/internal/interface/http/handlers"

	// Packages
	"github.com/alem-hub/shadow-ranch/pkg/logger"
	"github.com/alem-hub/shadow-ranch/pkg/telemetry"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ И ТРАССИРОВКИ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Shadow Ranch API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("db_driver", cfg.Database.Driver),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.TracingEndpoint,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    string(cfg.App.Environment),
		SampleRatio:    cfg.Observability.TracingSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracing shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	backend, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()
	log.Info("database ready", logger.String("driver", backend.Driver))

	var store progress.Store = backend.Store

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache    *redis.Cache
		mintLock service.Locker
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(ctx, cfg.Redis)
		if err != nil {
			// Redis не критичен: работаем без кеша и блокировок
			log.Warn("redis unavailable, continuing without cache", logger.Err(err))
			cache = nil
		} else {
			defer cache.Close()
			store = service.NewCachedStore(store, redis.NewRecordCache(cache, cfg.Redis.RecordTTL), log)
			mintLock = redis.NewMintLock(cache, cfg.Redis.MintLockTTL)
			log.Info("redis connected")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	eventBus, closeBus, err := setupEventBus(ctx, cache, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer closeBus()

	if err := eventBus.SubscribeAll(logEvent(log)); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. СЕРВИС TOKEN-METADATA
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}

	minter, tokenClient := setupMinter(cfg, log)
	idempotent := service.NewIdempotentMinter(minter, backend.Ledger, mintLock, clock, log)

	badges, err := config.LoadBadges(cfg.App.BadgesFile)
	if err != nil {
		return fmt.Errorf("failed to load badges: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER (Commands & Queries)
	// ─────────────────────────────────────────────────────────────────────────
	deps := command.Deps{
		Store:     store,
		Clock:     clock,
		Publisher: eventBus,
		Logger:    log,
	}

	initializeUserHandler := command.NewInitializeUserHandler(deps)
	completeChallengeHandler := command.NewCompleteChallengeHandler(deps)
	completeModuleHandler := command.NewCompleteModuleHandler(deps)
	mintCredentialHandler := command.NewMintAchievementCredentialHandler(deps, credential.NewIssuer(idempotent), badges)

	getProgressHandler := query.NewGetProgressHandler(store, backend.Ledger)
	getStatsHandler := query.NewGetStatsHandler(backend.Stats)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version, handlers.WithHealthClock(clock))
	health.AddCheck("database", handlers.NewPingCheck(backend))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}
	if tokenClient != nil {
		health.AddOptionalCheck("token_metadata", handlers.NewPingCheck(tokenClient))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log, Clock: clock})
	var statsJob *jobs.StatsReportJob
	if d := cfg.Observability.StatsReportInterval; d > 0 {
		statsJob = jobs.NewStatsReportJob(getStatsHandler, log)
		if err := sched.Register(statsJob, scheduler.Every(d)); err != nil {
			return fmt.Errorf("failed to register stats report: %w", err)
		}
	}
	if d := cfg.Observability.BreakerWatchInterval; d > 0 && tokenClient != nil {
		if err := sched.Register(jobs.NewBreakerWatchJob(tokenClient, log), scheduler.Every(d)); err != nil {
			return fmt.Errorf("failed to register breaker watch: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	// Первый отчёт пишется при старте, не дожидаясь интервала.
	if statsJob != nil {
		if _, err := sched.RunNow(ctx, statsJob.Name()); err != nil {
			log.Warn("initial stats report failed", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.ConfigFrom(cfg.HTTP), httpserver.Dependencies{
		InitializeUserHandler:    initializeUserHandler,
		CompleteChallengeHandler: completeChallengeHandler,
		CompleteModuleHandler:    completeModuleHandler,
		MintCredentialHandler:    mintCredentialHandler,
		GetProgressHandler:       getProgressHandler,
		GetStatsHandler:          getStatsHandler,
		Authenticator:            httpserver.NewAuthenticator(cfg.Auth, clock),
		HealthChecker:            health,
		Logger:                   log,
	})

	errCh := server.StartAsync()
	log.Info("Shadow Ranch API is running", logger.String("address", cfg.HTTP.Addr()))

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ОЖИДАНИЕ СИГНАЛА ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("HTTP server failed", logger.Err(err))
			serveErr = err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("shutting down...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Err(err))
	}

	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop error", logger.Err(err))
	}
	for _, j := range sched.ListJobs() {
		log.Info("background job final state",
			logger.String("job", j.Name),
			logger.Int("runs", int(j.RunCount)),
			logger.Int("failures", int(j.FailCount)),
		)
	}

	if tokenClient != nil {
		status := tokenClient.Status()
		log.Info("token-metadata client final state",
			logger.String("breaker", status.BreakerState.String()),
		)
	}

	log.Info("shutdown complete")
	return serveErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает логгер по конфигурации.
func setupLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		AddCaller: cfg.IsDevelopment(),
		Text:      cfg.Observability.LogFormat == "text",
	})
	return log.With(logger.String("service", cfg.App.Name))
}

// setupEventBus выбирает шину событий: Redis pub/sub при наличии Redis,
// иначе in-memory.
func setupEventBus(ctx context.Context, cache *redis.Cache, log *logger.Logger) (shared.EventBus, func(), error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log.Slog()

	if cache != nil {
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         cache.Client(),
			InstanceID:     uuid.NewString(),
			LocalBusConfig: local,
			Logger:         log.Slog(),
		})
		if err == nil {
			return bus, func() { _ = bus.Close() }, nil
		}
		log.Warn("redis event bus unavailable, using in-memory bus", logger.Err(err))
	}

	bus := messaging.NewInMemoryEventBus(local)
	return bus, func() { _ = bus.Close() }, nil
}

// setupMinter создаёт клиента token-metadata. Без TOKENMETA_BASE_URL
// (только вне production) используется детерминированный in-memory minter.
func setupMinter(cfg *config.Config, log *logger.Logger) (credential.Minter, *tokenmeta.Client) {
	if cfg.TokenMetadata.BaseURL == "" {
		log.Warn("TOKENMETA_BASE_URL not set, credentials are minted in memory")
		return tokenmeta.NewMemoryMinter(), nil
	}

	tmCfg := tokenmeta.DefaultClientConfig(cfg.TokenMetadata.BaseURL)
	tmCfg.APIKey = cfg.TokenMetadata.APIKey
	tmCfg.Timeout = cfg.TokenMetadata.RequestTimeout
	tmCfg.MaxRetries = cfg.TokenMetadata.MaxRetries
	tmCfg.FailureThreshold = cfg.TokenMetadata.CircuitBreakerThreshold
	tmCfg.BreakerTimeout = cfg.TokenMetadata.CircuitBreakerTimeout
	tmCfg.Logger = log.Slog()

	client := tokenmeta.NewClient(tmCfg)
	return client, client
}

// logEvent пишет каждое доменное событие в лог.
func logEvent(log *logger.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		if event == nil {
			return errors.New("nil event")
		}
		log.Info("domain event",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Time("occurred_at", event.OccurredAt()),
		)
		return nil
	}
}
