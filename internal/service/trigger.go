package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

// TriggerRequest asks for a sync
type TriggerRequest struct {
	Kind     models.SyncJobKind
	Entities []models.EntityKind // targeted syncs; empty means all kinds
	Since    *time.Time          // entity date lower bound
}

// SyncService is the trigger boundary: it enqueues, cancels and reports on sync jobs.
// Enqueued jobs are executed by whoever runs the Orchestrator (watcher or CLI).
type SyncService struct {
	jobs               JobStore
	tracker            *Tracker
	maxSweepWindowDays int
	now                func() time.Time
}

func NewSyncService(jobs JobStore, tracker *Tracker, maxSweepWindowDays int) *SyncService {
	return &SyncService{
		jobs:               jobs,
		tracker:            tracker,
		maxSweepWindowDays: maxSweepWindowDays,
		now:                time.Now,
	}
}

// Trigger validates req and enqueues a pending job, returning its id
func (s *SyncService) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	spec, err := s.plan(ctx, req)
	if err != nil {
		return "", err
	}
	job, err := s.tracker.Enqueue(ctx, spec)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *SyncService) plan(ctx context.Context, req TriggerRequest) (JobSpec, error) {
	if req.Kind == "" {
		req.Kind = models.SyncKindFull
	}
	if !req.Kind.Valid() {
		return JobSpec{}, fmt.Errorf("%w: sync kind %q", ErrUnknownEntityKind, req.Kind)
	}
	for _, k := range req.Entities {
		if !k.Valid() {
			return JobSpec{}, fmt.Errorf("%w: %s", ErrUnknownEntityKind, k)
		}
	}

	spec := JobSpec{
		Kind:       req.Kind,
		ScopeSince: req.Since,
		RunSweep:   true,
	}

	switch req.Kind {
	case models.SyncKindTargeted:
		if len(req.Entities) == 0 {
			return JobSpec{}, fmt.Errorf("%w: targeted sync needs at least one entity kind", ErrUnknownEntityKind)
		}
		spec.EntityKinds = req.Entities
	case models.SyncKindIncremental:
		spec.EntityKinds = req.Entities
		last, err := s.jobs.LastSucceeded(ctx, models.SyncKindFull, models.SyncKindIncremental)
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			// nothing to be incremental against yet
			spec.Kind = models.SyncKindFull
		case err != nil:
			return JobSpec{}, fmt.Errorf("failed to find last successful sync: %w", err)
		case last.StartedAt == nil:
			spec.Kind = models.SyncKindFull
		default:
			spec.ModifiedSince = last.StartedAt
			spec.RunSweep = false
		}
	}

	if spec.RunSweep && spec.ScopeSince != nil && s.maxSweepWindowDays > 0 {
		oldest := s.now().UTC().AddDate(0, 0, -s.maxSweepWindowDays)
		if spec.ScopeSince.Before(oldest) {
			return JobSpec{}, fmt.Errorf("%w: sweep since %s exceeds %d days", ErrScopeTooLarge, spec.ScopeSince.Format("2006-01-02"), s.maxSweepWindowDays)
		}
	}
	return spec, nil
}

// Cancel stops a job. A pending job is cancelled directly; a running job is flagged and
// stops at its next kind boundary.
func (s *SyncService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, job.Status)
	}

	if job.Status == models.SyncStatusPending {
		err := s.tracker.Finish(ctx, jobID, models.SyncStatusCancelled, models.SyncCounts{}, nil)
		if err == nil || !errors.Is(err, ErrJobFinished) {
			return err
		}
		// claimed in between; fall through to flag the running job
	}

	if err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrJobNotClaimable) {
			return fmt.Errorf("%w: %s", ErrJobFinished, jobID)
		}
		return err
	}
	return nil
}

// Progress returns the live or degraded progress view of a job
func (s *SyncService) Progress(ctx context.Context, jobID string) (SyncProgress, error) {
	return s.tracker.Progress(ctx, jobID)
}
