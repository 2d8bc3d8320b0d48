// Command xp-backfill runs backfills from the shell against the configured
// store, without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyhall/xp-engine/app"
	"github.com/studyhall/xp-engine/config"
	"github.com/studyhall/xp-engine/logger"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "xp-backfill",
		Short:         "Backfill XP from historical learning activity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./xp.yaml)")

	cmd.AddCommand(
		newUserCommand(),
		newAllCommand(),
		newRollbackCommand(),
		newReportCommand(),
		newTokenCommand(),
	)
	return cmd
}

// withApp loads config, builds the app for the duration of fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
