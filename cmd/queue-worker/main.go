package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"catalog-sync/internal/config"
	"catalog-sync/internal/database"
	"catalog-sync/internal/logger"
	"catalog-sync/internal/queue"
	"catalog-sync/internal/ratelimit"
	"catalog-sync/internal/repository"
	"catalog-sync/internal/storefront"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.Storefront.URL == "" {
		log.Fatal("STOREFRONT_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	limiter, closeLimiter := batchLimiter(cfg, log)
	defer closeLimiter()

	drainer := queue.NewDrainer(
		repository.NewQueueRepository(db, cfg.Queue.MaxAttempts),
		storefront.NewClient(cfg.Storefront.URL, cfg.Storefront.Token, cfg.Storefront.Timeout),
		limiter,
		queue.DrainerConfig{
			BatchSize:    cfg.Queue.BatchSize,
			Workers:      cfg.Queue.Workers,
			StaleAfter:   cfg.Queue.StaleAfter,
			PollInterval: cfg.Queue.PollInterval,
		},
		log,
	)

	log.Info("Queue worker started",
		zap.Int("batch_size", cfg.Queue.BatchSize),
		zap.Duration("batch_delay", cfg.Queue.BatchDelay),
		zap.Int("workers", cfg.Queue.Workers),
	)

	if err := drainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Queue worker stopped", zap.Error(err))
	}
	log.Info("Queue worker exiting")
}

// batchLimiter paces batches through Redis when several workers share one
// storefront budget, and in process otherwise
func batchLimiter(cfg *config.Config, log *zap.Logger) (queue.Limiter, func()) {
	if !cfg.Redis.Enabled() || cfg.Queue.BatchDelay <= 0 {
		return ratelimit.NewLocal(cfg.Queue.BatchDelay), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("Using shared batch limiter", zap.String("redis", cfg.Redis.Addr()))

	limiter := ratelimit.NewRedis(client, ratelimit.Config{
		RequestsPerWindow: 1,
		Window:            cfg.Queue.BatchDelay,
		KeyPrefix:         "catalog_sync:queue",
	})
	return limiter, func() { client.Close() }
}
