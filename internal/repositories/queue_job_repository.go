package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/models"

	"gorm.io/gorm"
)

type queueJobRepository struct {
	db *gorm.DB
}

func NewQueueJobRepository(db *gorm.DB) QueueJobRepository {
	return &queueJobRepository{db: db}
}

func (r *queueJobRepository) Create(ctx context.Context, job *models.QueueJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create queue job: %w", translateError(err))
	}
	return nil
}

func (r *queueJobRepository) GetByJobID(ctx context.Context, jobID string) (*models.QueueJob, error) {
	var job models.QueueJob
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueJobNotFound
		}
		return nil, fmt.Errorf("failed to get queue job: %w", err)
	}
	return &job, nil
}

func (r *queueJobRepository) MarkProcessing(ctx context.Context, jobID string, attempts int) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"status":   models.QueueJobStatusProcessing,
		"attempts": attempts,
	})
}

func (r *queueJobRepository) MarkCompleted(ctx context.Context, jobID string, at time.Time) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"status":        models.QueueJobStatusCompleted,
		"processed_at":  at,
		"error_message": "",
	})
}

func (r *queueJobRepository) MarkRetrying(ctx context.Context, jobID, errMsg string, scheduledAt time.Time) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"status":        models.QueueJobStatusFailed,
		"error_message": errMsg,
		"scheduled_at":  scheduledAt,
	})
}

func (r *queueJobRepository) MarkDead(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"status":        models.QueueJobStatusDead,
		"error_message": errMsg,
		"processed_at":  at,
	})
}

func (r *queueJobRepository) update(ctx context.Context, jobID string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).Where("job_id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update queue job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueJobNotFound
	}
	return nil
}

func (r *queueJobRepository) ListUnfinished(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error) {
	statuses := []models.QueueJobStatus{
		models.QueueJobStatusPending,
		models.QueueJobStatusProcessing,
		models.QueueJobStatusFailed,
	}
	var jobs []*models.QueueJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale queue jobs: %w", err)
	}
	return jobs, nil
}

func (r *queueJobRepository) Prune(ctx context.Context, status models.QueueJobStatus, keep int) (int64, error) {
	keepIDs := r.db.Model(&models.QueueJob{}).
		Select("id").
		Where("status = ?", status).
		Order("updated_at DESC").
		Limit(keep)

	result := r.db.WithContext(ctx).
		Where("status = ? AND id NOT IN (?)", status, keepIDs).
		Delete(&models.QueueJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune queue jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
