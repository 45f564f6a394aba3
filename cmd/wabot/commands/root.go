// Package commands implements the wabot CLI with cobra.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/wabot/core/cmd"
	"github.com/m3rciful/wabot/internal/app"
)

// NewRootCmd builds the root command. Without a subcommand it serves.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "wabot",
		Short: "WhatsApp keyword auto-responder",
		Long: `wabot answers WhatsApp messages from a keyword table stored in
MySQL, PostgreSQL or SQLite, greets new numbers once and expires idle
conversations.

Examples:
  wabot                       # same as "wabot serve"
  wabot serve --config ./config.yaml
  wabot migrate
  wabot seed ./seed.yaml
  wabot reap`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newReapCmd(),
		newVersionCmd(version),
	)

	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config (overrides CONFIG_PATH)")
	root.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config")

	return root
}

// runnerOptions collects the shared flags into core runner options.
func runnerOptions(cmd *cobra.Command, boot func(ctx context.Context, cfg *app.Config) (corecmd.App, error)) corecmd.Options {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")
	envFiles, _ := flags.GetStringSlice("env-file")

	return corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: app.DefaultConfigPath,
		ConfigPath:        path,
		EnvFiles:          envFiles,
		LoadConfig: func(path string, allowMissing bool) (corecmd.ConfigCarrier, error) {
			return app.LoadConfig(path, allowMissing)
		},
		Bootstrap: func(ctx context.Context, cfg corecmd.ConfigCarrier) (corecmd.App, error) {
			return boot(ctx, cfg.(*app.Config))
		},
	}
}
