// Package main - точка входа движка обучения и геймификации.
//
// Процесс поднимает:
// - хранилище (PostgreSQL или память) и единицу работы с повторами
// - реестр контента и публикацию стартового бандла
// - Redis: кэш прогресса и шину событий между репликами
// - HTTP API приёма событий, запросов и администрирования
// - необязательный планировщик обслуживающих задач
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/civiclearn/config"
	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/application/eventhandler"
	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/contentfile"
	"github.com/alem-hub/civiclearn/internal/infrastructure/messaging"
	"github.com/alem-hub/civiclearn/internal/infrastructure/observability"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/civiclearn/internal/infrastructure/scheduler"
	"github.com/alem-hub/civiclearn/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/civiclearn/internal/infrastructure/service"
	httpapi "github.com/alem-hub/civiclearn/internal/interface/http"
	"github.com/alem-hub/civiclearn/internal/interface/http/handlers"
	"github.com/alem-hub/civiclearn/pkg/circuitbreaker"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage - выбранное хранилище со всем, что от него зависит.
type storage struct {
	uow     txn.UnitOfWork
	content catalog.Repository
	history handlers.ContentHistory
	ping    handlers.Pinger
	close   func()
}

// bus - шина событий и её закрытие.
type bus interface {
	shared.EventBus
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Конфигурация и логгер
	// ─────────────────────────────────────────────────────────────────────────

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:       logger.ParseLevel(cfg.Observability.LogLevel),
		Format:      cfg.Observability.LogFormat,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.Storage.Driver),
	)

	shutdownTracing := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		SampleRatio: cfg.Observability.SampleRatio,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Хранилище
	// ─────────────────────────────────────────────────────────────────────────

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Redis и шина событий
	// ─────────────────────────────────────────────────────────────────────────

	onBreaker := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}

	var (
		cache         *redis.Cache
		progressCache query.ProgressCache
		eventBus      bus
	)
	if cfg.Redis.Enabled {
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			// Redis необязателен: движок работает без кэша и без рассылки.
			log.Warn("redis unavailable, running without cache and cross-replica events", logger.Err(err))
			cache = nil
		}
	}
	if cache != nil {
		defer cache.Close()
		if cfg.Features.ProgressCacheEnabled() {
			progressCache = redis.NewProgressCache(cache, log)
		}
		if cfg.Features.EventPublishingEnabled() {
			eventBus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
				Client:      redis.NewPubSub(cache, onBreaker),
				ChannelName: cfg.Redis.Channel,
				Logger:      log,
			})
			if err != nil {
				log.Warn("redis event bus unavailable, using local bus", logger.Err(err))
				eventBus = nil
			}
		}
	}
	if eventBus == nil {
		eventBus = messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	}
	defer eventBus.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Контент
	// ─────────────────────────────────────────────────────────────────────────

	clock := timeutil.RealClock{}
	registry := content.NewRegistry(store.content, log)
	if err := registry.Reload(ctx); err != nil && !shared.IsNotFound(err) {
		return fmt.Errorf("failed to load content: %w", err)
	}

	publish := command.NewPublishContentHandler(store.content, registry, clock, eventBus, log)
	if err := bootstrapContent(ctx, cfg.Content.BootstrapFile, registry, publish, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Обработчики команд и событий
	// ─────────────────────────────────────────────────────────────────────────

	uow := txn.WithRetry(store.uow, cfg.Storage.MaxAttempts, cfg.Storage.Timeout, log)
	awarder := reward.NewAwarder(service.NewIDGenerator())
	deps := command.Deps{
		UoW:       uow,
		Content:   registry,
		Awarder:   awarder,
		Badges:    saga.NewBadgeReevaluation(awarder),
		Clock:     clock,
		IDs:       service.NewIDGenerator(),
		Publisher: eventBus,
		Logger:    log,
		Streaks:   cfg.Features.StreaksEnabled(),
	}

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{EventBus: eventBus, Logger: log})
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))
	if progressCache != nil {
		// Commands invalidate before responding; the subscriber covers
		// events published by other replicas.
		deps.Progress = progressCache
		onLearner := eventhandler.NewOnLearnerEventHandler(progressCache, log)
		for _, t := range eventhandler.LearnerEvents() {
			if err := dispatcher.Register(t, "invalidate_progress", onLearner.Handle); err != nil {
				return err
			}
		}
	}
	onContent := eventhandler.NewOnContentPublishedHandler(registry, log)
	if err := dispatcher.Register(shared.EventContentPublished, "reload_content", onContent.Handle); err != nil {
		return err
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	submitQuiz := command.NewSubmitQuizAttemptHandler(deps)
	cmds := handlers.Commands{
		CompleteLesson:    command.NewCompleteLessonHandler(deps),
		StartQuiz:         command.NewStartQuizAttemptHandler(deps),
		SubmitAnswer:      command.NewSubmitQuizAnswerHandler(deps, submitQuiz),
		SubmitQuiz:        submitQuiz,
		JoinChallenge:     command.NewJoinChallengeHandler(deps),
		CompleteChallenge: command.NewCompleteChallengeHandler(deps),
		Community:         command.NewRecordCommunityActivityHandler(deps),
	}
	progress := query.NewGetLearnerProgressHandler(uow, registry, progressCache, clock, log)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{Logger: log, Clock: clock})
		expire := jobs.NewExpireAttemptsJob(uow, submitQuiz, clock, cfg.Scheduler.ExpireBatch, log)
		if err := sched.Register(expire, scheduler.Every(cfg.Scheduler.ExpireInterval)); err != nil {
			return err
		}
		if err := sched.Register(jobs.NewSyncContentJob(registry, log), scheduler.Every(cfg.Scheduler.ContentSyncInterval)); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP
	// ─────────────────────────────────────────────────────────────────────────

	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck("storage", handlers.NewPingCheck(store.ping))
	if cache != nil {
		checker.AddCheck("redis", handlers.NewPingCheck(cache))
	}
	checker.AddCheck("catalog", handlers.NewCatalogCheck(registry.Loaded))

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.ServiceName = cfg.App.Name
	if cfg.IsDevelopment() {
		httpCfg.Mode = "debug"
	}

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Events:   handlers.NewEventHandler(cmds, cfg.Features.CommunityEnabled, log),
		Progress: handlers.NewProgressHandler(progress, log),
		Admin:    handlers.NewAdminHandler(publish, registry, store.history, log),
		Health:   handlers.NewHealthHandler(checker),
		Auth:     handlers.NewAuthenticator(cfg.Auth.APIKeyHashes, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.Disabled, log),
		Logger:   log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. Запуск и graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return err
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if sched != nil {
			if err := sched.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	dl := dispatcher.DeadLetters().Len()
	log.Info("engine stopped", logger.Int("dead_letters", dl))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("using in-memory storage, state is lost on restart")
		st := memory.NewStore()
		contentRepo := st.Content()
		return &storage{
			uow:     st,
			content: contentRepo,
			history: contentRepo,
			ping:    st,
			close:   func() {},
		}, nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	if cfg.Database.MaxConns > 0 {
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		pgCfg.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	db, err := postgres.OpenGorm(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	contentRepo := postgres.NewContentRepository(db)
	return &storage{
		uow:     postgres.NewUnitOfWork(conn),
		content: contentRepo,
		history: contentRepo,
		ping:    conn,
		close:   conn.Close,
	}, nil
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

// bootstrapContent публикует стартовый бандл, если активной версии ещё нет.
func bootstrapContent(ctx context.Context, path string, registry *content.Registry, publish *command.PublishContentHandler, log *logger.Logger) error {
	if registry.Loaded() {
		return nil
	}
	if path == "" {
		log.Warn("no content published yet and no bootstrap file configured")
		return nil
	}
	bundle, err := contentfile.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load bootstrap content: %w", err)
	}
	res, err := publish.Handle(ctx, command.PublishContentCommand{Bundle: *bundle})
	if err != nil {
		return fmt.Errorf("failed to publish bootstrap content: %w", err)
	}
	log.Info("bootstrap content published",
		logger.ContentVersion(res.Version),
		logger.String("checksum", res.Checksum),
		logger.Bool("duplicate", res.Duplicate),
	)
	return nil
}
