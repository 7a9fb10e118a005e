package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/database"
	"github.com/vipul43/ledgersync/internal/httpapi"
	"github.com/vipul43/ledgersync/internal/service"
	"github.com/vipul43/ledgersync/internal/watcher"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync worker, scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, restore, err := loadConfig()
	if err != nil {
		return err
	}
	defer restore()

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	zap.S().Info("Database connected successfully")

	// Run migrations
	zap.S().Info("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	zap.S().Info("Migrations completed successfully")

	// Everything below stops when ctx is cancelled by a shutdown signal
	workCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newApp(workCtx, cfg, db)

	webhooks, err := service.NewWebhookProcessor(workCtx, cfg.WebhookKey, cfg.LedgerTenantID, a.client, a.reconciler, a.records)
	if err != nil {
		return err
	}

	w := watcher.New(cfg, a.jobs, a.orchestrator)
	scheduler, err := watcher.NewScheduler(cfg, a.jobs, a.syncs)
	if err != nil {
		return err
	}

	health := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(webhooks, a.syncs, health).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(workCtx)
	}()
	go func() {
		zap.S().Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	scheduler.Start(workCtx)

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		zap.S().Info("Shutdown signal received")
	case runErr = <-errChan:
		zap.S().Errorf("Worker error: %v", runErr)
	}

	// Wait for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("Warning: HTTP server shutdown: %v", err)
	}

	// Running jobs see the cancellation and finish as interrupted
	cancel()
	done := make(chan struct{})
	go func() {
		w.Wait()
		webhooks.Wait()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		zap.S().Warn("Shutdown timeout exceeded")
	case <-done:
	}

	zap.S().Info("Application stopped")
	return runErr
}
