package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clearcut/internal/adapter/repo"
	"clearcut/internal/cache"
	httpapi "clearcut/internal/http"
	"clearcut/internal/http/handlers"
	"clearcut/internal/infra"
	"clearcut/internal/infra/geoip"
	"clearcut/internal/queue"
	"clearcut/internal/service"
	"clearcut/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
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
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	producer, err := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect kafka producer")
	}
	defer producer.Close()

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	store := repo.NewJobStore(dbpool)
	ledger := repo.NewCredentialLedger(dbpool)
	orch := service.NewOrchestrator(store, producer, backend, statuses, logger, cfg.Retention())

	app := handlers.NewApp(orch, ledger, backend, cfg, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Countries:       countries,
	})
	server := infra.NewHTTPServer(cfg, router)

	// Periodic retention sweep; jobs and files past the window are reaped.
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := orch.Cleanup(ctx); err != nil {
					logger.Error().Err(err).Msg("cleanup pass failed")
				}
			}
		}
	}()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
