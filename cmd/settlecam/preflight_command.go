package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"settlecam/internal/preflight"
)

// newPreflightCommand runs the hardware and environment checks directly,
// without the daemon, so an installer can verify a bench before first use.
func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check cameras, directories, and external binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, statusLine(result.Name, kind, result.Detail, colorize))
			}
			if err := preflight.Failed(results); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "All preflight checks passed")
			return nil
		},
	}
}
