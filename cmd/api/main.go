package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fact-feed/internal/adapters/httpapi"
	"fact-feed/internal/adapters/ranker"
	"fact-feed/internal/app"
	"fact-feed/internal/infra/config"
	httpinfra "fact-feed/internal/infra/http"
	applog "fact-feed/internal/infra/log"
	"fact-feed/internal/infra/metrics"
	"fact-feed/internal/usecase/categories"
	"fact-feed/internal/usecase/facts"
	"fact-feed/internal/usecase/feed"
	"fact-feed/internal/usecase/invalidation"
	"fact-feed/internal/usecase/recount"
	"fact-feed/internal/usecase/stats"
	"fact-feed/internal/usecase/views"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer closeStore()

	cacheStore, closeCache := app.OpenCache(ctx, cfg, logger.With().Str("component", "cache").Logger())
	defer closeCache()

	var recountSvc *recount.Service
	invalidator := invalidation.NewCoordinator(cacheStore, logger.With().Str("component", "invalidation").Logger())
	factSvc := facts.NewService(store, store, store, cacheStore, cfg.Cache.TTL, invalidator, logger)
	recountQueue, closeQueue, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("api: очередь пересчёта недоступна, ручной пересчёт отключён")
	} else {
		defer closeQueue()
		recountSvc = recount.NewService(recountQueue, factSvc, logger)
	}

	feedSvc := feed.NewService(store, store, store, store, cacheStore,
		ranker.New(cfg.Feed.RandomSeed, cfg.Location()),
		feed.Options{
			DefaultLimit: cfg.Feed.DefaultLimit,
			MaxLimit:     cfg.Feed.MaxLimit,
			TTL:          cfg.Cache.TTL,
			Location:     cfg.Location(),
		}, logger)

	handler := httpapi.New(httpapi.Services{
		Feed:       feedSvc,
		Facts:      factSvc,
		Categories: categories.NewService(store, store, cacheStore, cfg.Cache.TTL, invalidator, logger),
		Views:      views.NewService(store, store, invalidator, logger),
		Stats:      stats.NewService(store, store, store),
		Recount:    recountSvc,
	}, logger)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Routes(server.Router, cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("api: JWT_SECRET не задан, авторизованные запросы будут отклоняться")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: ошибка остановки сервера")
		}
	}()

	if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
	logger.Info().Msg("api: остановлен")
}
