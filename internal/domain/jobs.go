package domain

import (
	"context"
	"time"
)

// RecountJobCause описывает источник запроса на пересчёт.
type RecountJobCause string

const (
	// RecountCauseManual: пересчёт запрошен администратором.
	RecountCauseManual RecountJobCause = "manual"
	// RecountCauseScheduled: плановый пересчёт.
	RecountCauseScheduled RecountJobCause = "scheduled"
)

// RecountJob: задача полного пересчёта factsCount у категорий.
type RecountJob struct {
	ID          string          `json:"job_id,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	Cause       RecountJobCause `json:"cause"`
}

// RecountQueue описывает очередь задач пересчёта.
type RecountQueue interface {
	Enqueue(ctx context.Context, job RecountJob) error
	Pop(ctx context.Context) (RecountJob, error)
}
