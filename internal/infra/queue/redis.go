package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

// RedisRecountQueue реализует очередь задач пересчёта на базе Redis lists.
type RedisRecountQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRecountQueue создаёт очередь по указанному ключу.
func NewRedisRecountQueue(client *redis.Client, key string) *RedisRecountQueue {
	return &RedisRecountQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisRecountQueue) Enqueue(ctx context.Context, job domain.RecountJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisRecountQueue) Pop(ctx context.Context) (domain.RecountJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RecountJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RecountJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RecountJob{}, err
		}
		if len(res) != 2 {
			return domain.RecountJob{}, errors.New("redis queue: unexpected response")
		}
		return decodeJob([]byte(res[1]))
	}
}
