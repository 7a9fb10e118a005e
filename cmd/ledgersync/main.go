package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "ledgersync",
	Short:         "Mirror a remote accounting ledger into a local Postgres store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(migrateCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the global logger. The returned func
// flushes the logger and must be deferred by the caller.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	restore, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range cfg.Warnings {
		zap.S().Warnf("Warning: %s", w)
	}
	return cfg, restore, nil
}
