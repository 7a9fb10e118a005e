package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			zap.S().Info("Running database migrations...")
			if err := database.RunMigrations(db); err != nil {
				return err
			}
			zap.S().Info("Migrations completed successfully")
			return nil
		},
	}
}
