package main

import (
	"github.com/spf13/cobra"

	"vidpipe/internal/daemon"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts daemon.RunOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: workers, event API, watch folder and reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemon.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")
	return cmd
}
