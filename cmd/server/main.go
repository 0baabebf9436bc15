// Package main runs the ledger HTTP API. Money movement requests are
// validated and persisted here; balances change in the worker binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/config"
	"ledger/internal/handlers"
	"ledger/internal/logger"
	"ledger/internal/metrics"
	"ledger/internal/middleware"
	"ledger/internal/queue"
	"ledger/internal/repositories"
	"ledger/internal/repositories/cache"
	"ledger/internal/routes"
	"ledger/internal/services/wallet"

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
		log.Fatal("server stopped", zap.Error(err))
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

	store := repositories.NewStore(db)
	collector := metrics.New()

	walletService := wallet.NewService(
		store,
		cache.NewLedgerCache(cacheService, cfg.Ledger),
		cache.NewIdempotencyLocker(redisClient, cfg.Ledger.IdempotencyLockTTL),
		queue.NewRedisQueue(redisClient, cfg.Queue),
		wallet.WalletConfig{DefaultCurrency: cfg.Ledger.DefaultCurrency},
		collector,
		log,
	)

	app := routes.NewApp(cfg.Server)
	routes.SetupRoutes(app, routes.Dependencies{
		WalletService: walletService,
		Auth:          middleware.NewAuthMiddleware(cfg.JWT.Secret, log),
		HealthChecks: map[string]handlers.Check{
			"database": store.Ping,
			"redis":    cacheService.HealthCheck,
		},
		Metrics: collector.Handler(),
		Logger:  log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("port", cfg.Server.Port))
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down http server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
