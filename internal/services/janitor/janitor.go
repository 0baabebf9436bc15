// Package janitor keeps the work queue and its queue_jobs records healthy:
// due retries are promoted, jobs held by dead workers are released, jobs
// whose queue entry was lost are pushed again and old finished records are
// pruned.
package janitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger/internal/models"
	"ledger/internal/queue"
	"ledger/internal/repositories"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Janitor struct {
	cron          *cron.Cron
	queue         Queue
	jobs          repositories.QueueJobRepository
	metrics       MetricsCollector
	log           *zap.Logger
	schedule      string
	keepCompleted int
	keepDead      int
	orphanGrace   time.Duration
	batchSize     int
	sweepTimeout  time.Duration
	now           func() time.Time
}

func New(config Config) *Janitor {
	if config.Queue == nil {
		panic("queue is required")
	}
	if config.Jobs == nil {
		panic("queue job repository is required")
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.KeepCompleted <= 0 {
		config.KeepCompleted = DefaultKeepCompleted
	}
	if config.KeepDead <= 0 {
		config.KeepDead = DefaultKeepDead
	}
	if config.OrphanGrace <= 0 {
		config.OrphanGrace = DefaultOrphanGrace
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = DefaultSweepTimeout
	}

	log := config.Logger.Named("janitor")
	cronLog := cronLogger{log.Sugar()}
	return &Janitor{
		cron:          cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		queue:         config.Queue,
		jobs:          config.Jobs,
		metrics:       config.Metrics,
		log:           log,
		schedule:      config.Schedule,
		keepCompleted: config.KeepCompleted,
		keepDead:      config.KeepDead,
		orphanGrace:   config.OrphanGrace,
		batchSize:     config.BatchSize,
		sweepTimeout:  config.SweepTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep on the configured schedule and starts the
// scheduler.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.sweepTimeout)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule janitor %q: %w", j.schedule, err)
	}
	j.log.Info("scheduled janitor", zap.String("schedule", j.schedule))
	j.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// sweep has finished.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep runs every maintenance step once. A failing step does not stop the
// others; their errors are joined.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	now := j.now()
	report := Report{Pruned: make(map[string]int64)}
	var errs []error

	promoted, err := j.queue.PromoteDue(ctx, now, j.batchSize)
	if err != nil {
		errs = append(errs, err)
	}
	report.Promoted = promoted

	requeued, err := j.queue.RequeueStale(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	report.Requeued = requeued

	repushed, err := j.repushOrphans(ctx, now.Add(-j.orphanGrace))
	if err != nil {
		errs = append(errs, err)
	}
	report.Repushed = repushed

	for status, keep := range map[models.QueueJobStatus]int{
		models.QueueJobStatusCompleted: j.keepCompleted,
		models.QueueJobStatusDead:      j.keepDead,
	} {
		n, err := j.jobs.Prune(ctx, status, keep)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to prune %s jobs: %w", status, err))
			continue
		}
		if n > 0 {
			report.Pruned[string(status)] = n
		}
	}

	if stats, err := j.queue.Stats(ctx); err != nil {
		errs = append(errs, err)
	} else {
		j.metrics.SetQueueDepth(stats.Ready, stats.Processing, stats.Delayed)
	}

	err = errors.Join(errs...)
	result := "success"
	if err != nil {
		result = "error"
	}
	j.metrics.RecordJanitorRun(result, report.Repushed, report.Pruned)

	if report.Promoted+report.Requeued+report.Repushed > 0 || len(report.Pruned) > 0 {
		j.log.Info("sweep finished",
			zap.Int("promoted", report.Promoted),
			zap.Int("requeued", report.Requeued),
			zap.Int("repushed", report.Repushed),
			zap.Any("pruned", report.Pruned))
	}
	return report, err
}

// repushOrphans enqueues unfinished jobs whose queue entry no longer exists,
// e.g. when the push after the database commit was lost.
func (j *Janitor) repushOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := j.jobs.ListUnfinished(ctx, cutoff, j.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	repushed := 0
	for _, row := range rows {
		exists, err := j.queue.Exists(ctx, row.JobID)
		if err != nil {
			return repushed, err
		}
		if exists {
			continue
		}

		job, err := rebuildJob(row)
		if err != nil {
			j.log.Error("cannot rebuild job", zap.String("job_id", row.JobID), zap.Error(err))
			continue
		}
		if err := j.queue.Enqueue(ctx, job); err != nil {
			return repushed, err
		}
		repushed++
		j.log.Warn("re-pushed orphaned job",
			zap.String("job_id", row.JobID),
			zap.String("transaction_id", row.TransactionID),
			zap.String("status", string(row.Status)))
	}
	return repushed, nil
}

func rebuildJob(row *models.QueueJob) (*queue.Job, error) {
	raw, err := json.Marshal(row.JobData)
	if err != nil {
		return nil, err
	}
	var payload models.JobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid job data: %w", err)
	}
	if payload.PrimaryTransactionID() == "" {
		return nil, errors.New("job data has no transaction id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:          row.JobID,
		Type:        string(row.JobType),
		Payload:     body,
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		EnqueuedAt:  row.CreatedAt,
		LastError:   row.ErrorMessage,
	}, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
