package commands

import (
	"context"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/wabot/core/cmd"
	"github.com/m3rciful/wabot/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer messages",
		Long: `Start the responder: migrate the database, pair or resume the
WhatsApp session, answer inbound messages and run the reaper until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	return corecmd.Run(cmd.Context(), runnerOptions(cmd, func(ctx context.Context, cfg *app.Config) (corecmd.App, error) {
		return app.NewServer(ctx, cfg)
	}))
}
