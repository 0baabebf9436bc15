// Package main runs the ledger job processor and queue janitor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/config"
	"ledger/internal/events"
	"ledger/internal/handlers"
	"ledger/internal/logger"
	"ledger/internal/metrics"
	"ledger/internal/queue"
	"ledger/internal/repositories"
	"ledger/internal/repositories/cache"
	"ledger/internal/services/janitor"
	"ledger/internal/services/processor"
	"ledger/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repositories.OpenDB(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repositories.CloseDB(db); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	redisClient := cache.NewRedisClient(cfg.Redis)
	cacheService := cache.NewCacheService(redisClient, cfg.Ledger.BalanceCacheTTL)
	defer func() {
		if err := cacheService.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
	}()
	if err := cacheService.HealthCheck(ctx); err != nil {
		return err
	}

	publisher := events.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	defer publisher.Close()

	store := repositories.NewStore(db)
	jobQueue := queue.NewRedisQueue(redisClient, cfg.Queue)
	collector := metrics.New()

	engine := wallet.NewService(
		store,
		cache.NewLedgerCache(cacheService, cfg.Ledger),
		cache.NewIdempotencyLocker(redisClient, cfg.Ledger.IdempotencyLockTTL),
		jobQueue,
		wallet.WalletConfig{DefaultCurrency: cfg.Ledger.DefaultCurrency},
		collector,
		log,
	)

	proc := processor.NewProcessor(processor.ProcessorConfig{
		Engine:         engine,
		Queue:          jobQueue,
		Jobs:           store.QueueJobs(),
		Events:         publisher,
		Metrics:        collector,
		Logger:         log,
		Workers:        cfg.Queue.Workers,
		ReserveTimeout: cfg.Queue.ReserveTimeout,
	})

	sweeper := janitor.New(janitor.Config{
		Queue:         jobQueue,
		Jobs:          store.QueueJobs(),
		Metrics:       collector,
		Logger:        log,
		Schedule:      cfg.Queue.JanitorSpec,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepDead:      cfg.Queue.KeepFailed,
		OrphanGrace:   cfg.Queue.OrphanGrace,
	})
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer func() { <-sweeper.Stop().Done() }()

	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"database": store.Ping,
		"redis":    cacheService.HealthCheck,
	}, log)
	app := fiber.New(fiber.Config{AppName: "ledger-worker", DisableStartupMessage: true})
	app.Get("/health", health.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(ctx)
	})
	g.Go(func() error {
		log.Info("worker metrics listening", zap.String("port", cfg.Server.WorkerPort))
		return app.Listen(":" + cfg.Server.WorkerPort)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down worker")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
