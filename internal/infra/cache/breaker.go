package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"fact-feed/internal/domain"
)

// BreakerConfig задаёт параметры автомата защиты кэша.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	Interval         time.Duration
	MaxRequests      uint32
}

// DefaultBreakerConfig возвращает настройки по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "cache",
		FailureThreshold: 5,
		Timeout:          10 * time.Second,
		Interval:         time.Minute,
		MaxRequests:      1,
	}
}

// BreakerCache оборачивает кэш автоматом защиты: при недоступном хранилище
// запросы сразу получают gobreaker.ErrOpenState, а вызывающий идёт мимо кэша.
type BreakerCache struct {
	next domain.Cache
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker создаёт обёртку.
func NewBreaker(next domain.Cache, cfg BreakerConfig, logger zerolog.Logger) *BreakerCache {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("cache: breaker state changed")
		},
	}
	return &BreakerCache{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State возвращает текущее состояние автомата.
func (b *BreakerCache) State() string {
	return b.cb.State().String()
}

type getResult struct {
	value []byte
	found bool
}

// Get читает через предохранитель, при открытом предохранителе отдаёт gobreaker.ErrOpenState.
func (b *BreakerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.cb.Execute(func() (any, error) {
		v, ok, err := b.next.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := res.(getResult)
	return r.value, r.found, nil
}

// Set пишет через предохранитель.
func (b *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

// Delete удаляет ключи через предохранитель.
func (b *BreakerCache) Delete(ctx context.Context, keys ...string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Delete(ctx, keys...)
	})
	return err
}

// DeleteByPattern удаляет ключи по шаблону через предохранитель.
func (b *BreakerCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.DeleteByPattern(ctx, pattern)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// Keys перечисляет ключи через предохранитель.
func (b *BreakerCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Keys(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	keys, _ := res.([]string)
	return keys, nil
}
