package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

// JobQueue is the durable job table as seen by the watcher
type JobQueue interface {
	GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
	GetStaleRunningJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.SyncJob, error)
	Finish(ctx context.Context, jobID string, status models.SyncJobStatus, counts models.SyncCounts, errMsg *string) error
}

// JobRunner executes one claimed job to completion
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

type Watcher struct {
	cfg    *config.Config
	jobs   JobQueue
	runner JobRunner

	sem      *semaphore.Weighted
	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func New(cfg *config.Config, jobs JobQueue, runner JobRunner) *Watcher {
	return &Watcher{
		cfg:      cfg,
		jobs:     jobs,
		runner:   runner,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		inFlight: make(map[string]struct{}),
	}
}

// Start polls for pending sync jobs until ctx is cancelled, then waits for running jobs
func (w *Watcher) Start(ctx context.Context) error {
	zap.S().Info("Starting watcher for sync jobs...")

	// Recover jobs abandoned by a previous process before picking up new ones
	w.poll(ctx)

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.S().Info("Watcher shutting down, waiting for running jobs...")
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Wait blocks until every job started by the watcher has returned
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) poll(ctx context.Context) {
	if err := w.recoverStaleJobs(ctx); err != nil {
		zap.S().Errorf("Error recovering stale sync jobs: %v", err)
	}
	if err := w.processPendingJobs(ctx); err != nil {
		zap.S().Errorf("Error processing sync jobs: %v", err)
	}
}

// recoverStaleJobs fails running jobs whose heartbeat stopped, e.g. after a crash
func (w *Watcher) recoverStaleJobs(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.cfg.StaleJobTimeout)
	stale, err := w.jobs.GetStaleRunningJobs(ctx, cutoff, 10)
	if err != nil {
		return err
	}

	for _, job := range stale {
		if w.isInFlight(job.ID) {
			continue
		}
		msg := "interrupted: no progress since " + job.UpdatedAt.Format(time.RFC3339)
		if err := w.jobs.Finish(ctx, job.ID, models.SyncStatusFailed, job.Counts(), &msg); err != nil {
			zap.S().Warnf("Warning: failed to fail stale sync job %s: %v", job.ID, err)
			continue
		}
		zap.S().Warnf("Warning: sync job %s was stuck in running (attempt %d), marked failed", job.ID, job.Attempts)
	}
	return nil
}

// processPendingJobs starts pending jobs, oldest first, while job slots are free
func (w *Watcher) processPendingJobs(ctx context.Context) error {
	pending, err := w.jobs.GetPendingJobs(ctx, w.cfg.MaxConcurrentJobs)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	zap.S().Infof("Found %d pending sync job(s)", len(pending))

	for _, job := range pending {
		if w.isInFlight(job.ID) {
			continue
		}
		if !w.sem.TryAcquire(1) {
			zap.S().Infof("All %d job slot(s) busy, sync job %s waits for the next poll", w.cfg.MaxConcurrentJobs, job.ID)
			return nil
		}
		w.start(ctx, job)
	}
	return nil
}

func (w *Watcher) start(ctx context.Context, job models.SyncJob) {
	w.mu.Lock()
	w.inFlight[job.ID] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, job.ID)
			w.mu.Unlock()
		}()

		zap.S().Infof("Processing %s sync job %s (kinds: %v)", job.Kind, job.ID, job.Kinds())
		err := w.runner.Run(ctx, job.ID)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrJobFinished):
			// claimed elsewhere or cancelled before it started
		case errors.Is(err, service.ErrJobCancelled):
			zap.S().Infof("Sync job %s cancelled", job.ID)
		default:
			zap.S().Errorf("Failed to process sync job %s: %v", job.ID, err)
		}
	}()
}

func (w *Watcher) isInFlight(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inFlight[jobID]
	return ok
}
