package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

// JobSpec describes a sync to enqueue
type JobSpec struct {
	Kind          models.SyncJobKind
	EntityKinds   []models.EntityKind // empty means all
	ScopeSince    *time.Time
	ModifiedSince *time.Time
	RunSweep      bool
}

// Tracker owns sync job state: the durable job row and its ephemeral progress entry
type Tracker struct {
	jobs      JobStore
	cache     ProgressCache
	retention time.Duration
	mu        sync.Mutex // serialises read-modify-write of cache entries
}

func NewTracker(jobs JobStore, cache ProgressCache, retention time.Duration) *Tracker {
	return &Tracker{
		jobs:      jobs,
		cache:     cache,
		retention: retention,
	}
}

// Enqueue creates a pending job
func (t *Tracker) Enqueue(ctx context.Context, spec JobSpec) (models.SyncJob, error) {
	job := models.SyncJob{
		ID:            uuid.New().String(),
		Kind:          spec.Kind,
		Status:        models.SyncStatusPending,
		EntityKinds:   models.JoinKinds(spec.EntityKinds),
		ScopeSince:    spec.ScopeSince,
		ModifiedSince: spec.ModifiedSince,
		RunSweep:      spec.RunSweep,
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return models.SyncJob{}, err
	}
	zap.S().Infof("Enqueued %s sync job %s (kinds: %v, sweep: %t)", job.Kind, job.ID, job.Kinds(), job.RunSweep)
	return job, nil
}

// Begin claims a pending job (pending -> running) and opens its progress entry at 0%.
// Returns ErrJobFinished if the job is no longer pending.
func (t *Tracker) Begin(ctx context.Context, job models.SyncJob, steps []string) error {
	if err := t.jobs.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrJobNotClaimable) {
			return fmt.Errorf("%w: %s", ErrJobFinished, job.ID)
		}
		return err
	}

	now := time.Now().UTC()
	progress := SyncProgress{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    models.SyncStatusRunning,
		Detailed:  true,
		StartedAt: &now,
	}
	for _, step := range steps {
		progress.Steps = append(progress.Steps, StepProgress{Name: step, Status: StepPending})
	}

	t.mu.Lock()
	t.cache.Set(progress)
	t.mu.Unlock()

	zap.S().Infof("Sync job %s running (%d step(s))", job.ID, len(steps))
	return nil
}

// Start creates a job and begins it immediately
func (t *Tracker) Start(ctx context.Context, spec JobSpec, steps []string) (models.SyncJob, error) {
	job, err := t.Enqueue(ctx, spec)
	if err != nil {
		return models.SyncJob{}, err
	}
	if err := t.Begin(ctx, job, steps); err != nil {
		return models.SyncJob{}, err
	}
	job.Status = models.SyncStatusRunning
	return job, nil
}

// StepStarted marks step in progress and makes it the current step
func (t *Tracker) StepStarted(jobID, step string) {
	t.modify(jobID, func(p *SyncProgress) {
		for i := range p.Steps {
			if p.Steps[i].Name == step && p.Steps[i].Status == StepPending {
				p.Steps[i].Status = StepInProgress
			}
		}
		p.CurrentStep = step
	})
}

// StepAdvanced records the running entity count of a step and the job's running counts.
// counts are persisted too, which doubles as the job's liveness heartbeat.
func (t *Tracker) StepAdvanced(ctx context.Context, jobID, step string, processed int, counts models.SyncCounts) error {
	t.modify(jobID, func(p *SyncProgress) {
		for i := range p.Steps {
			if p.Steps[i].Name == step {
				p.Steps[i].Count = processed
			}
		}
		p.Counts = counts
	})
	return t.jobs.UpdateCounts(ctx, jobID, counts)
}

// Update marks step done and advances the percentage. The percentage never decreases.
func (t *Tracker) Update(ctx context.Context, jobID, step string, processed int, counts models.SyncCounts) error {
	t.modify(jobID, func(p *SyncProgress) {
		done := 0
		for i := range p.Steps {
			if p.Steps[i].Name == step {
				p.Steps[i].Status = StepDone
				p.Steps[i].Count = processed
			}
			if p.Steps[i].Status == StepDone {
				done++
			}
		}
		pct := 100
		if len(p.Steps) > 0 {
			pct = done * 100 / len(p.Steps)
		}
		if pct > p.Percentage {
			p.Percentage = pct
		}
		p.CurrentStep = step
		p.Counts = counts
	})
	return t.jobs.UpdateCounts(ctx, jobID, counts)
}

// Finish writes the terminal state durably, exactly once. The progress entry is kept
// for the retention period so pollers can observe the outcome, then dropped.
func (t *Tracker) Finish(ctx context.Context, jobID string, status models.SyncJobStatus, counts models.SyncCounts, cause error) error {
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	if err := t.jobs.Finish(ctx, jobID, status, counts, errMsg); err != nil {
		if errors.Is(err, repository.ErrJobNotClaimable) {
			return fmt.Errorf("%w: %s", ErrJobFinished, jobID)
		}
		return err
	}

	now := time.Now().UTC()
	t.modify(jobID, func(p *SyncProgress) {
		p.Status = status
		p.Counts = counts
		p.ErrorMessage = errMsg
		p.CompletedAt = &now
		if status == models.SyncStatusSucceeded {
			p.Percentage = 100
			p.CurrentStep = ""
		}
	})
	if t.retention > 0 {
		time.AfterFunc(t.retention, func() { t.cache.Remove(jobID) })
	} else {
		t.cache.Remove(jobID)
	}

	if cause != nil {
		zap.S().Warnf("Sync job %s %s: %v (created %d, updated %d, unchanged %d, removed %d)",
			jobID, status, cause, counts.Created, counts.Updated, counts.Unchanged, counts.Removed)
	} else {
		zap.S().Infof("Sync job %s %s (created %d, updated %d, unchanged %d, removed %d)",
			jobID, status, counts.Created, counts.Updated, counts.Unchanged, counts.Removed)
	}
	return nil
}

// Progress returns the live progress of a job. When the live entry is gone the view is
// rebuilt from the durable job; a running job then reports "detail unavailable".
func (t *Tracker) Progress(ctx context.Context, jobID string) (SyncProgress, error) {
	if p, ok := t.cache.Get(jobID); ok {
		return p, nil
	}

	job, err := t.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return SyncProgress{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return SyncProgress{}, err
	}

	progress := SyncProgress{
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		Counts:       job.Counts(),
		ErrorMessage: job.ErrorMessage,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	switch job.Status {
	case models.SyncStatusRunning:
		progress.CurrentStep = detailUnavailable
	case models.SyncStatusSucceeded:
		progress.Percentage = 100
	}
	return progress, nil
}

func (t *Tracker) modify(jobID string, fn func(p *SyncProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.cache.Get(jobID)
	if !ok {
		// evicted; keep going without live detail
		return
	}
	fn(&p)
	t.cache.Set(p)
}
