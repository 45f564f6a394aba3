package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/wabot/core/cmd"
	"github.com/m3rciful/wabot/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), runnerOptions(cmd, func(ctx context.Context, cfg *app.Config) (corecmd.App, error) {
				return app.NewMigrate(ctx, cfg)
			}))
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [FILE]",
		Short: "Load a YAML fixture into an empty database",
		Long: `Migrate the database and load chatbots, flows and welcome settings
from FILE (or DB_SEED_FILE). Databases that already hold chatbots are
left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return corecmd.Run(cmd.Context(), runnerOptions(cmd, func(ctx context.Context, cfg *app.Config) (corecmd.App, error) {
				return app.NewSeed(ctx, cfg, path)
			}))
		},
	}
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired conversations once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), runnerOptions(cmd, func(ctx context.Context, cfg *app.Config) (corecmd.App, error) {
				return app.NewReap(ctx, cfg)
			}))
		},
	}
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
