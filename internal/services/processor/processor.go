package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errs "ledger/internal/errors"
	"ledger/internal/events"
	"ledger/internal/models"
	"ledger/internal/queue"
	"ledger/internal/repositories"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Processor pulls jobs off the queue and hands them to the engine's commit
// phase. Retryable failures are re-queued with exponential backoff; anything
// else, or a job out of attempts, is dead-lettered and its transactions are
// marked FAILED.
type Processor struct {
	engine         Engine
	queue          Queue
	jobs           repositories.QueueJobRepository
	events         events.Publisher
	metrics        MetricsCollector
	log            *zap.Logger
	workers        int
	reserveTimeout time.Duration
	errorBackoff   time.Duration
	now            func() time.Time
}

func NewProcessor(config ProcessorConfig) *Processor {
	if config.Engine == nil {
		panic("engine is required")
	}
	if config.Queue == nil {
		panic("queue is required")
	}
	if config.Jobs == nil {
		panic("queue job repository is required")
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Events == nil {
		config.Events = events.NewNoopPublisher(config.Logger)
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.ReserveTimeout <= 0 {
		config.ReserveTimeout = DefaultReserveTimeout
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = DefaultErrorBackoff
	}

	return &Processor{
		engine:         config.Engine,
		queue:          config.Queue,
		jobs:           config.Jobs,
		events:         config.Events,
		metrics:        config.Metrics,
		log:            config.Logger.Named("processor"),
		workers:        config.Workers,
		reserveTimeout: config.ReserveTimeout,
		errorBackoff:   config.ErrorBackoff,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("starting workers", zap.Int("workers", p.workers))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	err := g.Wait()
	p.log.Info("workers stopped")
	return err
}

func (p *Processor) work(ctx context.Context, worker int) error {
	log := p.log.With(zap.Int("worker", worker))
	for ctx.Err() == nil {
		job, err := p.queue.Reserve(ctx, p.reserveTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("failed to reserve job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.errorBackoff):
			}
			continue
		}

		// A reserved job is always settled, even during shutdown.
		if err := p.Handle(context.WithoutCancel(ctx), job); err != nil {
			log.Error("failed to settle job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// Handle processes one reserved job. The returned error is only about
// settling the job; commit failures are handled by retrying or
// dead-lettering it.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	start := time.Now()
	log := p.log.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts))

	record, err := p.jobs.GetByJobID(ctx, job.ID)
	switch {
	case errors.Is(err, repositories.ErrQueueJobNotFound):
		log.Warn("queue job record missing")
		record = nil
	case err != nil:
		return p.retry(ctx, log, job, start, errs.Transient(err, "failed to load queue job"))
	}

	if record != nil && record.Status.IsTerminal() {
		log.Info("job already settled", zap.String("status", string(record.Status)))
		p.metrics.RecordJob(job.Type, OutcomeSkipped, time.Since(start))
		return p.queue.Ack(ctx, job)
	}
	if record != nil {
		if err := p.jobs.MarkProcessing(ctx, job.ID, job.Attempts); err != nil {
			log.Warn("failed to mark job processing", zap.Error(err))
		}
	}

	var payload models.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.deadLetter(ctx, log, job, payload, start, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	err = p.dispatch(ctx, models.JobType(job.Type), payload)
	switch {
	case err == nil:
		return p.complete(ctx, log, job, payload, start)
	case errs.Retryable(err) && !job.Exhausted():
		return p.retry(ctx, log, job, start, err)
	case errs.Retryable(err):
		return p.deadLetter(ctx, log, job, payload, start,
			errs.Permanent(err, "max attempts exceeded after %d attempts", job.Attempts))
	default:
		return p.deadLetter(ctx, log, job, payload, start, err)
	}
}

func (p *Processor) dispatch(ctx context.Context, jobType models.JobType, payload models.JobPayload) error {
	switch jobType {
	case models.JobTypeDeposit:
		return p.engine.CommitDeposit(ctx, payload)
	case models.JobTypeWithdraw:
		return p.engine.CommitWithdraw(ctx, payload)
	case models.JobTypeTransfer:
		return p.engine.CommitTransfer(ctx, payload)
	default:
		return errs.Permanent(ErrUnknownJobType, "cannot process job type %q", jobType)
	}
}

func (p *Processor) complete(ctx context.Context, log *zap.Logger, job *queue.Job, payload models.JobPayload, start time.Time) error {
	now := p.now()
	if err := p.jobs.MarkCompleted(ctx, job.ID, now); err != nil && !errors.Is(err, repositories.ErrQueueJobNotFound) {
		log.Warn("failed to mark job completed", zap.Error(err))
	}
	if err := p.queue.Ack(ctx, job); err != nil {
		return err
	}
	p.publish(ctx, log, events.TransactionCompleted, job, payload, OutcomeCompleted, "")
	p.metrics.RecordJob(job.Type, OutcomeCompleted, time.Since(start))
	log.Info("job completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Processor) retry(ctx context.Context, log *zap.Logger, job *queue.Job, start time.Time, cause error) error {
	delay := p.queue.Backoff(job.Attempts)
	if err := p.queue.Retry(ctx, job, delay, cause); err != nil {
		return err
	}
	if err := p.jobs.MarkRetrying(ctx, job.ID, cause.Error(), p.now().Add(delay)); err != nil && !errors.Is(err, repositories.ErrQueueJobNotFound) {
		log.Warn("failed to mark job retrying", zap.Error(err))
	}

	var payload models.JobPayload
	_ = json.Unmarshal(job.Payload, &payload)
	p.publish(ctx, log, events.TransactionRetrying, job, payload, OutcomeRetrying, cause.Error())
	p.metrics.RecordJob(job.Type, OutcomeRetrying, time.Since(start))
	log.Warn("job scheduled for retry", zap.Duration("delay", delay), zap.Error(cause))
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, log *zap.Logger, job *queue.Job, payload models.JobPayload, start time.Time, cause error) error {
	reason := cause.Error()
	if len(payloadIDs(payload)) > 0 {
		// Leave the job reserved if this fails; it is redelivered after
		// the visibility timeout and dead-lettered again.
		if err := p.engine.FailPermanently(ctx, payload, reason); err != nil {
			return err
		}
	}
	if err := p.jobs.MarkDead(ctx, job.ID, reason, p.now()); err != nil && !errors.Is(err, repositories.ErrQueueJobNotFound) {
		log.Warn("failed to mark job dead", zap.Error(err))
	}
	if err := p.queue.Ack(ctx, job); err != nil {
		return err
	}
	p.publish(ctx, log, events.TransactionDeadLettered, job, payload, OutcomeDeadLettered, reason)
	p.metrics.RecordJob(job.Type, OutcomeDeadLettered, time.Since(start))
	log.Error("job dead-lettered",
		zap.String("kind", errs.KindOf(cause).String()),
		zap.Error(cause))
	return nil
}

func (p *Processor) publish(ctx context.Context, log *zap.Logger, routingKey string, job *queue.Job, payload models.JobPayload, status, reason string) {
	event := events.TransactionEvent{
		JobID:          job.ID,
		JobType:        job.Type,
		TransactionIDs: payloadIDs(payload),
		Status:         status,
		Attempts:       job.Attempts,
		Error:          reason,
		OccurredAt:     p.now(),
	}
	if err := p.events.PublishTransactionEvent(ctx, routingKey, event); err != nil {
		log.Warn("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func payloadIDs(p models.JobPayload) []string {
	var ids []string
	for _, id := range []string{p.TransactionID, p.OutgoingTransactionID, p.IncomingTransactionID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
