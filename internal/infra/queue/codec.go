package queue

import (
	"fmt"

	json "github.com/goccy/go-json"

	"fact-feed/internal/domain"
)

func encodeJob(job domain.RecountJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (domain.RecountJob, error) {
	var job domain.RecountJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.RecountJob{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Cause == "" {
		job.Cause = domain.RecountCauseManual
	}
	return job, nil
}
