package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"fact-feed/internal/app"
	"fact-feed/internal/infra/config"
	applog "fact-feed/internal/infra/log"
	"fact-feed/internal/infra/metrics"
	"fact-feed/internal/usecase/facts"
	"fact-feed/internal/usecase/invalidation"
	"fact-feed/internal/usecase/recount"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	store, closeStore, err := app.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к хранилищу")
	}
	defer closeStore()

	cacheStore, closeCache := app.OpenCache(ctx, cfg, logger.With().Str("component", "cache").Logger())
	defer closeCache()

	recountQueue, closeQueue, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer closeQueue()

	invalidator := invalidation.NewCoordinator(cacheStore, logger.With().Str("component", "invalidation").Logger())
	factSvc := facts.NewService(store, store, store, cacheStore, cfg.Cache.TTL, invalidator, logger)

	logger.Info().Str("backend", cfg.Queues.Backend).Msg("worker: запуск обработки очереди")
	recount.NewService(recountQueue, factSvc, logger).Run(ctx)
	logger.Info().Msg("worker: остановлен")
}
