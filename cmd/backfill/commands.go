package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyhall/xp-engine/api"
	"github.com/studyhall/xp-engine/app"
	"github.com/studyhall/xp-engine/config"
	"github.com/studyhall/xp-engine/xp"
)

func newUserCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "user <user-id>",
		Short: "Backfill one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.Run(ctx, xp.UserID(args[0]), dryRun)
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).outcome(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	return cmd
}

func newAllCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Backfill every user with a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Engine.RunAll(ctx, dryRun)
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).summary(summary)
				if summary.UsersFailed > 0 {
					return fmt.Errorf("%d of %d users failed", summary.UsersFailed, summary.UsersProcessed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	return cmd
}

func newRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <user-id>",
		Short: "Delete a user's backfill events and recompute their XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Rollback(ctx, xp.UserID(args[0]))
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).rollback(res)
				return nil
			})
		},
	}
}

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <user-id>",
		Short: "Show a user's XP split by origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.Report(ctx, xp.UserID(args[0]))
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).report(report)
				return nil
			})
		},
	}
}

// newTokenCommand signs a bearer token for local testing of the API.
func newTokenCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			token, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), xp.UserID(args[0]), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
