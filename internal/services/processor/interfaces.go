package processor

import (
	"context"
	"time"

	"ledger/internal/models"
	"ledger/internal/queue"
)

// Engine commits or abandons the money movement a job describes.
type Engine interface {
	CommitDeposit(ctx context.Context, payload models.JobPayload) error
	CommitWithdraw(ctx context.Context, payload models.JobPayload) error
	CommitTransfer(ctx context.Context, payload models.JobPayload) error
	FailPermanently(ctx context.Context, payload models.JobPayload, reason string) error
}

// Queue is the consumer side of the work queue.
type Queue interface {
	Reserve(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job, delay time.Duration, cause error) error
	Backoff(attempts int) time.Duration
}

type MetricsCollector interface {
	RecordJob(jobType, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordJob(string, string, time.Duration) {}
