// Package app собирает зависимости бинарников из конфигурации.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fact-feed/internal/adapters/repo"
	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
	"fact-feed/internal/infra/config"
	"fact-feed/internal/infra/db"
	"fact-feed/internal/infra/queue"
)

// Store объединяет репозитории одного хранилища.
type Store interface {
	domain.FactRepo
	domain.CategoryRepo
	domain.ViewLedger
	domain.Aggregator
	domain.UserRepo
}

// Closer освобождает ресурс при остановке.
type Closer func()

func noop() {}

// OpenStore подключает хранилище по STORE_DRIVER.
func OpenStore(cfg config.AppConfig, logger zerolog.Logger) (Store, Closer, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("app: данные хранятся в памяти и будут потеряны при остановке")
		return repo.NewMemory(), noop, nil
	case "postgres", "":
		if cfg.Store.PGDSN == "" {
			return nil, nil, fmt.Errorf("не указан PG_DSN")
		}
		pool, err := db.Connect(cfg.Store.PGDSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к БД: %w", err)
		}
		return repo.NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.Store.Driver)
	}
}

// NewRedisClient создаёт клиента и проверяет соединение.
func NewRedisClient(ctx context.Context, cfg config.AppConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("подключение к redis: %w", err)
	}
	return client, nil
}

// OpenCache подключает кэш по CACHE_DRIVER. Redis оборачивается автоматом
// защиты. Без Redis сервис работает на кэше в памяти.
func OpenCache(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Cache, Closer) {
	if cfg.Cache.Driver == "memory" {
		return cache.NewMemory(), noop
	}
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("app: redis недоступен, используем кэш в памяти")
		return cache.NewMemory(), noop
	}
	breaker := cache.NewBreaker(cache.NewRedis(client), cache.DefaultBreakerConfig(), logger)
	return breaker, func() { _ = client.Close() }
}

// OpenQueue подключает очередь задач пересчёта по QUEUE_BACKEND.
func OpenQueue(ctx context.Context, cfg config.AppConfig) (domain.RecountQueue, Closer, error) {
	switch cfg.Queues.Backend {
	case "memory":
		return queue.NewMemoryRecountQueue(16), noop, nil
	case "rabbitmq":
		q, err := queue.NewRabbitRecountQueue(cfg.Queues.RabbitURL, cfg.Queues.Recount)
		if err != nil {
			return nil, nil, fmt.Errorf("очередь RabbitMQ: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	case "redis", "":
		client, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRedisRecountQueue(client, cfg.Queues.Recount), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный QUEUE_BACKEND %q", cfg.Queues.Backend)
	}
}
