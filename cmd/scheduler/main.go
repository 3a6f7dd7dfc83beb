package main

import (
	"context"
	"os/signal"
	"syscall"

	"fact-feed/internal/app"
	"fact-feed/internal/infra/config"
	applog "fact-feed/internal/infra/log"
	"fact-feed/internal/usecase/recount"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recountQueue, closeQueue, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer closeQueue()

	logger.Info().Dur("interval", cfg.Queues.RecountInterval).Msg("scheduler: плановый пересчёт запущен")
	recount.NewService(recountQueue, nil, logger).Schedule(ctx, cfg.Queues.RecountInterval)
	logger.Info().Msg("scheduler: остановлен")
}
