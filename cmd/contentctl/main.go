// Command contentctl validates and publishes content bundles without the
// HTTP API.
//
//	contentctl validate -file bundle.yaml
//	contentctl publish  -file bundle.yaml
//	contentctl history  [-limit 20]
//	contentctl hashkey  -key SECRET
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/civiclearn/config"
	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/messaging"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &commandLine{out: os.Stdout, open: openBackend}
	if err := cli.run(ctx, os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if shared.IsConfiguration(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

// openBackend connects to the database named by DATABASE_URL and, when Redis
// is enabled, to the cross-replica event channel.
func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: "console",
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	conn, err := postgres.NewConnectionFromURL(connCtx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := postgres.NewMigrator(conn).Migrate(connCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := postgres.OpenGorm(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	repo := postgres.NewContentRepository(db)

	closers := []func(){conn.Close}
	var publisher shared.EventPublisher = noopPublisher{}
	if cfg.Redis.Enabled && cfg.Features.EventPublishingEnabled() {
		rc := redis.DefaultConfig()
		rc.URL = cfg.Redis.URL
		if cfg.Redis.Host != "" {
			rc.Host = cfg.Redis.Host
		}
		if cfg.Redis.Port > 0 {
			rc.Port = cfg.Redis.Port
		}
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cache, err := redis.NewCache(rc); err != nil {
			log.Warn("redis unavailable, replicas will not be notified", logger.Err(err))
		} else {
			bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
				Client:      redis.NewPubSub(cache, nil),
				ChannelName: cfg.Redis.Channel,
				Logger:      log,
			})
			if err != nil {
				_ = cache.Close()
				log.Warn("redis event bus unavailable, replicas will not be notified", logger.Err(err))
			} else {
				publisher = bus
				closers = append(closers, func() { _ = bus.Close() }, func() { _ = cache.Close() })
			}
		}
	}

	registry := content.NewRegistry(repo, log)
	if err := registry.Reload(ctx); err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}
	return &backend{
		publish: command.NewPublishContentHandler(repo, registry, timeutil.RealClock{}, publisher, log),
		history: repo,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			log.Sync()
		},
	}, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(shared.Event) error { return nil }
