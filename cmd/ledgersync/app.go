package main

import (
	"context"

	"gorm.io/gorm"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/ledger"
	"github.com/vipul43/ledgersync/internal/repository"
	"github.com/vipul43/ledgersync/internal/service"
)

// app holds the wired components shared by the serve and sync commands
type app struct {
	jobs         *repository.SyncJobRepository
	records      *repository.RecordRepository
	client       *ledger.Client
	reconciler   *service.Reconciler
	orchestrator *service.Orchestrator
	syncs        *service.SyncService
}

func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB) *app {
	// Initialize repositories
	jobs := repository.NewSyncJobRepository(db)
	records := repository.NewRecordRepository(db)
	connections := repository.NewConnectionRepository(db)

	// Initialize remote ledger client
	tokens := ledger.NewTokenSource(ctx, ledger.OAuthConfig{
		ClientID:     cfg.LedgerClientID,
		ClientSecret: cfg.LedgerClientSecret,
		TokenURL:     cfg.LedgerTokenURL,
		TenantID:     cfg.LedgerTenantID,
		RefreshToken: cfg.LedgerRefreshToken,
	}, connections)
	client := ledger.NewClient(ledger.ClientConfig{
		BaseURL:     cfg.LedgerBaseURL,
		TenantID:    cfg.LedgerTenantID,
		MaxAttempts: cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		RateLimit:   cfg.RateLimitPerSecond,
		RateBurst:   cfg.RateLimitBurst,
		Timeout:     cfg.HTTPTimeout,
	}, tokens)

	// Initialize services
	fetcher := service.NewFetcher(client, cfg.PageSize, cfg.MaxPages)
	reconciler := service.NewReconciler(records)
	sweeper := service.NewSweeper(fetcher, records)
	tracker := service.NewTracker(jobs, service.NewLRUProgressCache(1024, cfg.ProgressTTL), cfg.ProgressRetention)
	orchestrator := service.NewOrchestrator(jobs, tracker, fetcher, reconciler, sweeper, service.OrchestratorConfig{
		KindConcurrency: cfg.KindConcurrency,
		SweepWindowDays: cfg.SweepWindowDays,
	})

	return &app{
		jobs:         jobs,
		records:      records,
		client:       client,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		syncs:        service.NewSyncService(jobs, tracker, cfg.MaxSweepWindowDays),
	}
}
