package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// RabbitRecountQueue реализует очередь задач пересчёта через AMQP.
type RabbitRecountQueue struct {
	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	queue        string
	pollInterval time.Duration
}

// NewRabbitRecountQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitRecountQueue(amqpURL, queue string) (*RabbitRecountQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitRecountQueue{conn: conn, ch: ch, queue: queue, pollInterval: defaultPollInterval}, nil
}

// Close закрывает канал и соединение.
func (q *RabbitRecountQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	return errors.Join(chErr, connErr)
}

// Enqueue публикует задачу в очередь.
func (q *RabbitRecountQueue) Enqueue(ctx context.Context, job domain.RecountJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	}
	start := time.Now()
	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitRecountQueue) Pop(ctx context.Context) (domain.RecountJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RecountJob{}, err
		}
		start := time.Now()
		q.mu.Lock()
		msg, ok, err := q.ch.Get(q.queue, true)
		q.mu.Unlock()
		metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
		if err != nil {
			return domain.RecountJob{}, fmt.Errorf("get message: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.RecountJob{}, ctx.Err()
			case <-time.After(q.pollInterval):
			}
			continue
		}
		return decodeJob(msg.Body)
	}
}
