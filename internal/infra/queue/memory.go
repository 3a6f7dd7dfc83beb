package queue

import (
	"context"

	"fact-feed/internal/domain"
)

// MemoryRecountQueue: очередь в памяти процесса для режима разработки и тестов.
type MemoryRecountQueue struct {
	jobs chan domain.RecountJob
}

// NewMemoryRecountQueue создаёт очередь с буфером size.
func NewMemoryRecountQueue(size int) *MemoryRecountQueue {
	if size <= 0 {
		size = 16
	}
	return &MemoryRecountQueue{jobs: make(chan domain.RecountJob, size)}
}

// Enqueue кладёт задачу в буфер и ждёт места, пока жив ctx.
func (q *MemoryRecountQueue) Enqueue(ctx context.Context, job domain.RecountJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop ждёт задачу.
func (q *MemoryRecountQueue) Pop(ctx context.Context) (domain.RecountJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.RecountJob{}, ctx.Err()
	}
}
