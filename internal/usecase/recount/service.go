// Package recount ставит и выполняет задачи сверки factsCount категорий.
package recount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

// Recounter выполняет полный пересчёт.
type Recounter interface {
	RecalculateAll(ctx context.Context) (int, error)
}

// Service публикует задачи пересчёта и обрабатывает их.
type Service struct {
	queue      domain.RecountQueue
	recounter  Recounter
	log        zerolog.Logger
	retryDelay time.Duration
	now        func() time.Time
}

// NewService создаёт сервис. recounter нужен только обработчику очереди.
func NewService(queue domain.RecountQueue, recounter Recounter, logger zerolog.Logger) *Service {
	return &Service{
		queue:      queue,
		recounter:  recounter,
		log:        logger.With().Str("component", "recount").Logger(),
		retryDelay: time.Second,
		now:        time.Now,
	}
}

// Request ставит задачу пересчёта в очередь.
func (s *Service) Request(ctx context.Context, cause domain.RecountJobCause) (domain.RecountJob, error) {
	if cause == "" {
		cause = domain.RecountCauseManual
	}
	job := domain.RecountJob{ID: uuid.NewString(), RequestedAt: s.now().UTC(), Cause: cause}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		metrics.IncRecountJob(string(cause), "enqueue_error")
		return domain.RecountJob{}, fmt.Errorf("постановка задачи пересчёта: %w", err)
	}
	metrics.IncRecountJob(string(cause), "enqueued")
	s.log.Info().Str("job_id", job.ID).Str("cause", string(cause)).Msg("recount: задача поставлена в очередь")
	return job, nil
}

// Schedule ставит плановую задачу каждые interval до отмены ctx.
func (s *Service) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.log.Warn().Msg("recount: интервал не задан, плановый пересчёт отключён")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Request(ctx, domain.RecountCauseScheduled); err != nil {
				s.log.Error().Err(err).Msg("recount: не удалось поставить плановую задачу")
			}
		}
	}
}

// Run читает очередь и выполняет задачи до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	for {
		job, err := s.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("recount: ошибка чтения очереди")
			if !sleep(ctx, s.retryDelay) {
				return
			}
			continue
		}
		s.Handle(ctx, job)
	}
}

// Handle выполняет одну задачу. Ошибка журналируется: следующая
// плановая задача повторит сверку.
func (s *Service) Handle(ctx context.Context, job domain.RecountJob) {
	jobLog := s.log.With().Str("job_id", job.ID).Str("cause", string(job.Cause)).Logger()
	start := time.Now()
	fixed, err := s.recounter.RecalculateAll(ctx)
	if err != nil {
		metrics.IncRecountJob(string(job.Cause), "failed")
		jobLog.Error().Err(err).Msg("recount: пересчёт завершился ошибкой")
		return
	}
	metrics.IncRecountJob(string(job.Cause), "completed")
	jobLog.Info().Int("fixed", fixed).Dur("took", time.Since(start)).Msg("recount: пересчёт выполнен")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
