package janitor

import (
	"context"
	"time"

	"ledger/internal/queue"
)

// Queue is the maintenance side of the work queue.
type Queue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Exists(ctx context.Context, id string) (bool, error)
	PromoteDue(ctx context.Context, now time.Time, limit int) (int, error)
	RequeueStale(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

type MetricsCollector interface {
	SetQueueDepth(ready, processing, delayed int64)
	RecordJanitorRun(result string, repushed int, pruned map[string]int64)
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int64, int64, int64)              {}
func (noopMetrics) RecordJanitorRun(string, int, map[string]int64) {}
