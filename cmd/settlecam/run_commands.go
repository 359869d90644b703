package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"settlecam/internal/ipc"
	"settlecam/internal/runstore"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a settling test",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartRun()
				if err != nil {
					return err
				}
				if !resp.Started {
					return fmt.Errorf("run not started: %s", resp.Message)
				}
				fmt.Fprintln(stdout, "Run started")
				if !wait {
					return nil
				}
				return waitForRun(cmd, client)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the run reaches a terminal state")
	return cmd
}

// waitForRun polls daemon status until the active run disappears, then
// reports the outcome of the most recent run.
func waitForRun(cmd *cobra.Command, client *ipc.Client) error {
	stdout := cmd.OutOrStdout()
	lastStatus := ""
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}

		status, err := client.Status()
		if err != nil {
			return err
		}
		if status.ActiveRun != nil {
			if status.ActiveRun.Status != lastStatus {
				lastStatus = status.ActiveRun.Status
				fmt.Fprintf(stdout, "  %s\n", lastStatus)
			}
			continue
		}

		runs, err := client.Runs(1)
		if err != nil {
			return err
		}
		if len(runs.Runs) == 0 {
			return fmt.Errorf("run finished but no record was found")
		}
		final := runs.Runs[0]
		switch final.Status {
		case string(runstore.StatusCompleted):
			fmt.Fprintf(stdout, "Run %s completed\n", final.ID)
			return nil
		case string(runstore.StatusAborted):
			fmt.Fprintf(stdout, "Run %s aborted\n", final.ID)
			return nil
		default:
			return fmt.Errorf("run %s failed: %s", final.ID, final.ErrorMessage)
		}
	}
}

func newAbortCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the active run, retaining partial footage",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Abort()
				if err != nil {
					return err
				}
				if !resp.Aborted {
					fmt.Fprintln(stdout, "No active run to abort")
					return nil
				}
				fmt.Fprintln(stdout, "Abort requested")
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the run-once-per-boot marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset()
				if err != nil {
					return err
				}
				if !resp.Reset {
					return fmt.Errorf("reset failed: %s", resp.Message)
				}
				fmt.Fprintln(stdout, resp.Message)
				return nil
			})
		},
	}
}
