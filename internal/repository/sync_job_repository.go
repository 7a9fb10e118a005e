package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("sync job not found")
	// ErrJobNotClaimable is returned when a state transition's precondition no longer holds
	// (the job was claimed by another worker or already reached a terminal status).
	ErrJobNotClaimable = errors.New("sync job is not in the expected state")
)

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create creates a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job models.SyncJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// GetPendingJobs retrieves queued jobs, oldest first
func (r *SyncJobRepository) GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ?", models.SyncStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetStaleRunningJobs retrieves running jobs that have not been touched since cutoff
// (their worker crashed or the process restarted)
func (r *SyncJobRepository) GetStaleRunningJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.SyncStatusRunning, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stale running jobs: %w", result.Error)
	}
	return jobs, nil
}

// HasActiveJob reports whether any job is pending or running
func (r *SyncJobRepository) HasActiveJob(ctx context.Context) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("status IN ?", []models.SyncJobStatus{models.SyncStatusPending, models.SyncStatusRunning}).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to count active jobs: %w", result.Error)
	}
	return count > 0, nil
}

// LastSucceeded returns the most recently started succeeded job of one of kinds
func (r *SyncJobRepository) LastSucceeded(ctx context.Context, kinds ...models.SyncJobKind) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND kind IN ?", models.SyncStatusSucceeded, kinds).
		Order("started_at DESC").
		Limit(1).
		Find(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query last succeeded job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// MarkRunning claims a pending job. Only one caller can win the pending -> running transition.
func (r *SyncJobRepository) MarkRunning(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusRunning,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job running: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

// UpdateCounts records intermediate counters and refreshes updated_at (the liveness heartbeat)
func (r *SyncJobRepository) UpdateCounts(ctx context.Context, jobID string, counts models.SyncCounts) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.SyncStatusRunning).
		Updates(map[string]interface{}{
			"created_count":   counts.Created,
			"updated_count":   counts.Updated,
			"unchanged_count": counts.Unchanged,
			"removed_count":   counts.Removed,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job counts: %w", result.Error)
	}
	return nil
}

// Finish writes the terminal state. The write is conditional on the job still being
// pending or running, so a job transitions to a terminal status exactly once.
func (r *SyncJobRepository) Finish(ctx context.Context, jobID string, status models.SyncJobStatus, counts models.SyncCounts, errMsg *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", jobID, []models.SyncJobStatus{models.SyncStatusPending, models.SyncStatusRunning}).
		Updates(map[string]interface{}{
			"status":          status,
			"created_count":   counts.Created,
			"updated_count":   counts.Updated,
			"unchanged_count": counts.Unchanged,
			"removed_count":   counts.Removed,
			"error_message":   errMsg,
			"completed_at":    now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

// RequestCancel flags a running job for cancellation
func (r *SyncJobRepository) RequestCancel(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.SyncStatusRunning).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to request cancellation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

// IsCancelRequested reports whether cancellation was requested for the job
func (r *SyncJobRepository) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).Select("cancel_requested").First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("failed to read cancellation flag: %w", result.Error)
	}
	return job.CancelRequested, nil
}
