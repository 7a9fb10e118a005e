package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

type OrchestratorConfig struct {
	KindConcurrency int // kinds of one tier synced at once
	SweepWindowDays int // default Since for sweeping jobs without a scope
}

// Orchestrator runs sync jobs: fetch and reconcile each kind in dependency order,
// sweep deletions, then finish the job
type Orchestrator struct {
	jobs       JobStore
	tracker    *Tracker
	fetcher    *Fetcher
	reconciler *Reconciler
	sweeper    *Sweeper
	cfg        OrchestratorConfig
	now        func() time.Time
}

func NewOrchestrator(jobs JobStore, tracker *Tracker, fetcher *Fetcher, reconciler *Reconciler, sweeper *Sweeper, cfg OrchestratorConfig) *Orchestrator {
	if cfg.KindConcurrency <= 0 {
		cfg.KindConcurrency = 1
	}
	return &Orchestrator{
		jobs:       jobs,
		tracker:    tracker,
		fetcher:    fetcher,
		reconciler: reconciler,
		sweeper:    sweeper,
		cfg:        cfg,
		now:        time.Now,
	}
}

// jobRun holds the state of one job execution
type jobRun struct {
	job   *models.SyncJob
	scope models.Scope

	mu     sync.Mutex
	counts models.SyncCounts
	live   map[models.EntityKind]map[string]struct{} // nil when no sweep reuses the fetch
}

func (r *jobRun) add(c models.SyncCounts) models.SyncCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = r.counts.Add(c)
	return r.counts
}

func (r *jobRun) total() models.SyncCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// Run claims the pending job jobID and executes it to a terminal state.
// It returns nil on success, ErrJobCancelled when stopped on request, and the
// failure otherwise. Entities reconciled before a failure stay reconciled.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return err
	}

	kinds := job.Kinds()
	steps := make([]string, 0, len(kinds)+1)
	for _, k := range kinds {
		steps = append(steps, string(k))
	}
	if job.RunSweep {
		steps = append(steps, StepSweep)
	}

	if err := o.tracker.Begin(ctx, *job, steps); err != nil {
		return err
	}

	r := &jobRun{job: job, scope: o.narrow(job)}
	if job.RunSweep && r.scope.ModifiedSince == nil {
		r.live = make(map[models.EntityKind]map[string]struct{}, len(kinds))
		for _, k := range kinds {
			r.live[k] = make(map[string]struct{})
		}
	}

	for _, tier := range tiers(kinds) {
		if err := o.syncTier(ctx, r, tier); err != nil {
			return o.stop(ctx, r, err)
		}
	}

	if job.RunSweep {
		if err := o.checkCancel(ctx, r); err != nil {
			return o.stop(ctx, r, err)
		}
		if err := o.sweep(ctx, r, kinds); err != nil {
			return o.fail(ctx, r, err)
		}
	}

	if err := o.tracker.Finish(context.WithoutCancel(ctx), job.ID, models.SyncStatusSucceeded, r.total(), nil); err != nil {
		return err
	}
	return nil
}

// narrow bounds a sweeping job without an explicit scope to the default window
func (o *Orchestrator) narrow(job *models.SyncJob) models.Scope {
	scope := job.Scope()
	if scope.Since == nil && job.RunSweep && o.cfg.SweepWindowDays > 0 {
		since := o.now().UTC().AddDate(0, 0, -o.cfg.SweepWindowDays).Truncate(24 * time.Hour)
		scope.Since = &since
		zap.S().Infof("Sync job %s has no scope, narrowing to entities dated on/after %s", job.ID, since.Format("2006-01-02"))
	}
	return scope
}

func (o *Orchestrator) syncTier(ctx context.Context, r *jobRun, tier []models.EntityKind) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.KindConcurrency)
	for _, kind := range tier {
		g.Go(func() error {
			return o.syncKind(gctx, r, kind)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) syncKind(ctx context.Context, r *jobRun, kind models.EntityKind) error {
	if err := o.checkCancel(ctx, r); err != nil {
		return err
	}

	step := string(kind)
	o.tracker.StepStarted(r.job.ID, step)

	live := r.live[kind]
	processed := 0
	for batch, err := range o.fetcher.FetchPages(ctx, kind, r.scope) {
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", kind, err)
		}

		counts, err := o.reconciler.Reconcile(ctx, kind, batch)
		total := r.add(counts)
		if err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", kind, err)
		}

		if live != nil {
			// only this goroutine writes the kind's set
			for _, e := range batch {
				live[e.RemoteID] = struct{}{}
			}
		}
		processed += len(batch)
		if err := o.tracker.StepAdvanced(ctx, r.job.ID, step, processed, total); err != nil {
			return err
		}
	}

	zap.S().Infof("Sync job %s reconciled %d %s entit(ies)", r.job.ID, processed, kind)
	return o.tracker.Update(ctx, r.job.ID, step, processed, r.total())
}

func (o *Orchestrator) sweep(ctx context.Context, r *jobRun, kinds []models.EntityKind) error {
	o.tracker.StepStarted(r.job.ID, StepSweep)

	removed := 0
	for _, kind := range kinds {
		var n int
		var err error
		if live, ok := r.live[kind]; ok {
			n, err = o.sweeper.SweepWithLiveIDs(ctx, kind, r.scope, live)
		} else {
			n, err = o.sweeper.Sweep(ctx, kind, r.scope)
		}
		removed += n
		r.add(models.SyncCounts{Removed: n})
		if err != nil {
			return fmt.Errorf("failed to sweep %s: %w", kind, err)
		}
	}

	return o.tracker.Update(ctx, r.job.ID, StepSweep, removed, r.total())
}

// checkCancel returns ErrJobCancelled once a cancel was requested for the job
func (o *Orchestrator) checkCancel(ctx context.Context, r *jobRun) error {
	requested, err := o.jobs.IsCancelRequested(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("failed to check cancellation: %w", err)
	}
	if requested {
		return fmt.Errorf("%w: %s", ErrJobCancelled, r.job.ID)
	}
	return nil
}

// stop finishes the job as cancelled when cause is a cancellation, failed otherwise
func (o *Orchestrator) stop(ctx context.Context, r *jobRun, cause error) error {
	if !errors.Is(cause, ErrJobCancelled) {
		return o.fail(ctx, r, cause)
	}
	if err := o.tracker.Finish(context.WithoutCancel(ctx), r.job.ID, models.SyncStatusCancelled, r.total(), nil); err != nil {
		return err
	}
	return cause
}

// fail finishes the job as failed, keeping its partial counts
func (o *Orchestrator) fail(ctx context.Context, r *jobRun, cause error) error {
	if ctx.Err() != nil {
		cause = fmt.Errorf("interrupted: %w", cause)
	}
	if err := o.tracker.Finish(context.WithoutCancel(ctx), r.job.ID, models.SyncStatusFailed, r.total(), cause); err != nil {
		zap.S().Errorf("Failed to record failure of sync job %s: %v", r.job.ID, err)
	}
	return cause
}
