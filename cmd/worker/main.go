package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clearcut/internal/adapter/repo"
	"clearcut/internal/cache"
	"clearcut/internal/infra"
	"clearcut/internal/processing"
	"clearcut/internal/queue"
	"clearcut/internal/storage"
	"clearcut/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	var statuses *cache.StatusCache
	if redisClient != nil {
		statuses = cache.NewStatusCache(redisClient, cfg.StatusCacheTTL)
		defer redisClient.Close()
	}

	backend, err := storage.New(storage.Options{
		Backend:     cfg.StorageBackend,
		LocalPath:   cfg.StoragePath,
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3Bucket:    cfg.S3Bucket,
		S3UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	store := repo.NewJobStore(dbpool)
	pool := worker.NewPool(cfg.WorkerCount)
	procs := map[string]processing.Processor{
		queue.OpRemoveBackground: processing.WithTimeout(processing.Default(), cfg.ProcessingTimeout),
		queue.OpRemoveWatermark:  processing.WithTimeout(processing.DefaultWatermark(), cfg.ProcessingTimeout),
	}
	executor := worker.NewExecutor(store, backend, procs, statuses, pool, logger)

	consumer, err := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: kafka connection failed")
	}
	defer consumer.Close()

	logger.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.KafkaTopic).
		Int("concurrency", cfg.WorkerCount).
		Msg("worker started")

	if err := consumer.Consume(ctx, cfg.KafkaTopic, executor.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: consume loop failed")
	}

	pool.Wait()
	logger.Info().Int64("dropped_writes", executor.DroppedWrites()).Msg("worker stopped")
}
