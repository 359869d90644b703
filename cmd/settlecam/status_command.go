package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"settlecam/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				fmt.Fprintln(stdout, sectionHeader("Daemon", colorize))
				daemonKind := statusError
				daemonDetail := "not running"
				if status.Running {
					daemonKind = statusOK
					daemonDetail = fmt.Sprintf("pid %d", status.PID)
				}
				fmt.Fprintln(stdout, statusLine("Daemon", daemonKind, daemonDetail, colorize))
				fmt.Fprintln(stdout, statusLine("Run database", statusInfo, status.RunDBPath, colorize))
				fmt.Fprintln(stdout)

				fmt.Fprintln(stdout, sectionHeader("Dependencies", colorize))
				for _, dep := range status.Dependencies {
					kind := statusOK
					detail := dep.Command
					if !dep.Available {
						kind = statusError
						detail = dep.Detail
					}
					fmt.Fprintln(stdout, statusLine(dep.Name, kind, detail, colorize))
				}
				fmt.Fprintln(stdout)

				fmt.Fprintln(stdout, sectionHeader("Stages", colorize))
				for _, health := range status.StageHealth {
					kind := statusOK
					if !health.Ready {
						kind = statusWarn
					}
					fmt.Fprintln(stdout, statusLine(health.Name, kind, health.Detail, colorize))
				}
				fmt.Fprintln(stdout)

				fmt.Fprintln(stdout, sectionHeader("Runs", colorize))
				if status.ActiveRun != nil {
					active := status.ActiveRun
					elapsed := time.Since(active.StartedAt).Round(time.Second)
					detail := fmt.Sprintf("%s for %s (mode %s)", active.Status, elapsed, active.Mode)
					fmt.Fprintln(stdout, statusLine("Active run", statusInfo, detail, colorize))
				} else {
					fmt.Fprintln(stdout, statusLine("Active run", statusInfo, "none", colorize))
				}

				fmt.Fprintln(stdout, totalsTable(status.Totals))
				return nil
			})
		},
	}
}
