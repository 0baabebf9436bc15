package memory

import (
	"context"
	"sort"
	"time"

	"ledger/internal/models"
	"ledger/internal/repositories"
)

type queueJobRepo struct{ s *Store }

func (r *queueJobRepo) Create(ctx context.Context, job *models.QueueJob) error {
	if err := r.s.lock("queue_jobs.create"); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	if _, ok := r.s.d.jobs[job.JobID]; ok {
		return repositories.ErrDuplicateKey
	}
	r.s.d.nextJob++
	job.ID = r.s.d.nextJob
	if job.Status == "" {
		job.Status = models.QueueJobStatusPending
	}
	now := r.s.d.tick()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	r.s.recordJob(job.JobID)
	r.s.d.jobs[job.JobID] = *job
	return nil
}

func (r *queueJobRepo) GetByJobID(ctx context.Context, jobID string) (*models.QueueJob, error) {
	if err := r.s.lock("queue_jobs.get"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	job, ok := r.s.d.jobs[jobID]
	if !ok {
		return nil, repositories.ErrQueueJobNotFound
	}
	return &job, nil
}

func (r *queueJobRepo) MarkProcessing(ctx context.Context, jobID string, attempts int) error {
	return r.update("queue_jobs.mark_processing", jobID, func(job *models.QueueJob) {
		job.Status = models.QueueJobStatusProcessing
		job.Attempts = attempts
	})
}

func (r *queueJobRepo) MarkCompleted(ctx context.Context, jobID string, at time.Time) error {
	return r.update("queue_jobs.mark_completed", jobID, func(job *models.QueueJob) {
		job.Status = models.QueueJobStatusCompleted
		job.ProcessedAt = &at
		job.ErrorMessage = ""
	})
}

func (r *queueJobRepo) MarkRetrying(ctx context.Context, jobID, errMsg string, scheduledAt time.Time) error {
	return r.update("queue_jobs.mark_retrying", jobID, func(job *models.QueueJob) {
		job.Status = models.QueueJobStatusFailed
		job.ErrorMessage = errMsg
		job.ScheduledAt = scheduledAt
	})
}

func (r *queueJobRepo) MarkDead(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return r.update("queue_jobs.mark_dead", jobID, func(job *models.QueueJob) {
		job.Status = models.QueueJobStatusDead
		job.ErrorMessage = errMsg
		job.ProcessedAt = &at
	})
}

func (r *queueJobRepo) update(op, jobID string, fn func(*models.QueueJob)) error {
	if err := r.s.lock(op); err != nil {
		r.s.unlock()
		return err
	}
	defer r.s.unlock()

	job, ok := r.s.d.jobs[jobID]
	if !ok {
		return repositories.ErrQueueJobNotFound
	}
	r.s.recordJob(jobID)
	fn(&job)
	job.UpdatedAt = r.s.d.tick()
	r.s.d.jobs[jobID] = job
	return nil
}

func (r *queueJobRepo) ListUnfinished(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error) {
	if err := r.s.lock("queue_jobs.list_unfinished"); err != nil {
		r.s.unlock()
		return nil, err
	}
	defer r.s.unlock()

	var jobs []*models.QueueJob
	for _, job := range r.s.d.jobs {
		if job.Status.IsTerminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job := job
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *queueJobRepo) Prune(ctx context.Context, status models.QueueJobStatus, keep int) (int64, error) {
	if err := r.s.lock("queue_jobs.prune"); err != nil {
		r.s.unlock()
		return 0, err
	}
	defer r.s.unlock()

	var matched []models.QueueJob
	for _, job := range r.s.d.jobs {
		if job.Status == status {
			matched = append(matched, job)
		}
	}
	if len(matched) <= keep {
		return 0, nil
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	var deleted int64
	for _, job := range matched[keep:] {
		r.s.recordJob(job.JobID)
		delete(r.s.d.jobs, job.JobID)
		deleted++
	}
	return deleted, nil
}

// SetJobUpdatedAt backdates a job row, for exercising time-based sweeps.
func (s *Store) SetJobUpdatedAt(jobID string, at time.Time) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if job, ok := s.d.jobs[jobID]; ok {
		job.UpdatedAt = at
		s.d.jobs[jobID] = job
	}
}

// AllQueueJobs returns copies of every stored job row, oldest first.
func (s *Store) AllQueueJobs() []*models.QueueJob {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	jobs := make([]*models.QueueJob, 0, len(s.d.jobs))
	for _, job := range s.d.jobs {
		job := job
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}
