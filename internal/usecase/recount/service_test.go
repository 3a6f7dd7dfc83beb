package recount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/queue"
)

type recounterStub struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func (r *recounterStub) RecalculateAll(context.Context) (int, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return 1, r.err
}

func TestRequestAndRun(t *testing.T) {
	q := queue.NewMemoryRecountQueue(4)
	stub := &recounterStub{done: make(chan struct{}, 1)}
	svc := NewService(q, stub, zerolog.Nop())

	job, err := svc.Request(context.Background(), "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if job.ID == "" || job.Cause != domain.RecountCauseManual {
		t.Fatalf("неожиданная задача: %+v", job)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(stopped)
	}()
	select {
	case <-stub.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не обработана")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("обработчик не остановился после отмены")
	}
}

func TestHandleFailureDoesNotPanic(t *testing.T) {
	stub := &recounterStub{err: errors.New("db down")}
	svc := NewService(queue.NewMemoryRecountQueue(1), stub, zerolog.Nop())
	svc.Handle(context.Background(), domain.RecountJob{ID: "j1", Cause: domain.RecountCauseScheduled})
	if stub.calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", stub.calls)
	}
}

func TestScheduleEnqueues(t *testing.T) {
	q := queue.NewMemoryRecountQueue(4)
	svc := NewService(q, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Schedule(ctx, 10*time.Millisecond)

	popCtx, popCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer popCancel()
	job, err := q.Pop(popCtx)
	if err != nil {
		t.Fatalf("плановая задача не появилась: %v", err)
	}
	if job.Cause != domain.RecountCauseScheduled {
		t.Fatalf("ожидали плановую задачу, получили %s", job.Cause)
	}
}
