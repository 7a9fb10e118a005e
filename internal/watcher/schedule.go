package watcher

import (
	"context"
	"fmt"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

// Enqueuer creates sync jobs
type Enqueuer interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (string, error)
}

// ActiveJobChecker reports whether a job is pending or running
type ActiveJobChecker interface {
	HasActiveJob(ctx context.Context) (bool, error)
}

// Scheduler enqueues periodic full and incremental syncs
type Scheduler struct {
	cron     *cron.Cron
	jobs     ActiveJobChecker
	enqueuer Enqueuer
	ctx      context.Context
}

func NewScheduler(cfg *config.Config, jobs ActiveJobChecker, enqueuer Enqueuer) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		jobs:     jobs,
		enqueuer: enqueuer,
		ctx:      context.Background(),
	}

	schedules := []struct {
		spec string
		kind models.SyncJobKind
	}{
		{cfg.FullSyncSchedule, models.SyncKindFull},
		{cfg.IncrementalSyncSchedule, models.SyncKindIncremental},
	}
	for _, sc := range schedules {
		if sc.spec == "" {
			continue
		}
		kind := sc.kind
		if err := s.cron.AddFunc(sc.spec, func() { s.enqueue(s.ctx, kind) }); err != nil {
			return nil, fmt.Errorf("invalid %s sync schedule %q: %w", kind, sc.spec, err)
		}
		zap.S().Infof("Scheduled %s sync: %s", kind, sc.spec)
	}
	return s, nil
}

// Start runs the schedules in the background until Stop
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// enqueue triggers a sync of kind unless another job is already pending or running
func (s *Scheduler) enqueue(ctx context.Context, kind models.SyncJobKind) {
	active, err := s.jobs.HasActiveJob(ctx)
	if err != nil {
		zap.S().Errorf("Error checking for active sync jobs: %v", err)
		return
	}
	if active {
		zap.S().Infof("Skipping scheduled %s sync, a job is already pending or running", kind)
		return
	}

	jobID, err := s.enqueuer.Trigger(ctx, service.TriggerRequest{Kind: kind})
	if err != nil {
		zap.S().Errorf("Failed to enqueue scheduled %s sync: %v", kind, err)
		return
	}
	zap.S().Infof("Enqueued scheduled %s sync job %s", kind, jobID)
}
