package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vipul43/ledgersync/internal/database"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

func syncCmd() *cobra.Command {
	var (
		kind     string
		entities string
		since    string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync job in-process and print its outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			req := service.TriggerRequest{Kind: models.SyncJobKind(kind)}
			kinds, err := service.ParseKinds(entities)
			if err != nil {
				return err
			}
			req.Entities = kinds
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since %q, want YYYY-MM-DD", since)
				}
				req.Since = &t
			}

			cfg, restore, err := loadConfig()
			if err != nil {
				return err
			}
			defer restore()

			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.RunMigrations(db); err != nil {
				return err
			}

			a := newApp(ctx, cfg, db)
			jobID, err := a.syncs.Trigger(ctx, req)
			if err != nil {
				return err
			}

			runErr := a.orchestrator.Run(ctx, jobID)

			// the run may have ended because ctx was cancelled; reporting still reads the store
			report := context.WithoutCancel(ctx)
			progress, err := a.syncs.Progress(report, jobID)
			if err != nil {
				return errors.Join(runErr, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s: %s\n", jobID, progress.Status)
			fmt.Fprintf(out, "created %d, updated %d, unchanged %d, removed %d\n",
				progress.Counts.Created, progress.Counts.Updated, progress.Counts.Unchanged, progress.Counts.Removed)
			if progress.ErrorMessage != nil {
				fmt.Fprintf(out, "error: %s\n", *progress.ErrorMessage)
			}
			if job, err := a.jobs.GetByID(report, jobID); err == nil {
				printLocalTotals(report, out, a, job.Kinds())
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.SyncKindFull), "sync kind: full, incremental or targeted")
	cmd.Flags().StringVar(&entities, "entities", "", "comma separated entity kinds (account, bank_account, bank_transaction, invoice)")
	cmd.Flags().StringVar(&since, "since", "", "only sync and sweep dated entities on/after this date (YYYY-MM-DD)")
	return cmd
}

// printLocalTotals shows the local mirror's status breakdown for each synced kind
func printLocalTotals(ctx context.Context, out io.Writer, a *app, kinds []models.EntityKind) {
	for _, kind := range kinds {
		counts, err := a.records.CountByStatus(ctx, kind)
		if err != nil {
			fmt.Fprintf(out, "%s: failed to count local records: %v\n", kind, err)
			continue
		}
		statuses := make([]string, 0, len(counts))
		for status := range counts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		fmt.Fprintf(out, "%s:", kind)
		for _, status := range statuses {
			fmt.Fprintf(out, " %s=%d", status, counts[status])
		}
		fmt.Fprintln(out)
	}
}
