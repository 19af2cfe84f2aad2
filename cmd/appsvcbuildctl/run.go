package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyvo/appsvcbuild/pkg/runs"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect pipeline runs",
}

var runGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show the state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := newClient().GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	},
}

var runLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Follow the log of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return newClient().StreamLogs(cmd.Context(), args[0], func(line string) error {
			_, err := fmt.Fprintln(out, line)
			return err
		})
	},
}

func init() {
	runCmd.AddCommand(runGetCmd, runLogsCmd)
	rootCmd.AddCommand(runCmd)
}

func printRun(cmd *cobra.Command, run runs.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:        %s\n", run.ID)
	fmt.Fprintf(out, "stack:     %s\n", run.Stack)
	fmt.Fprintf(out, "versions:  %s\n", strings.Join(run.Versions, ", "))
	fmt.Fprintf(out, "status:    %s\n", run.Status)
	if len(run.Succeeded) > 0 {
		fmt.Fprintf(out, "succeeded: %s\n", strings.Join(run.Succeeded, ", "))
	}
	fmt.Fprintf(out, "created:   %s\n", run.CreatedAt.Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(out, "finished:  %s\n", run.FinishedAt.Format(time.RFC3339))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "error:     %s\n", run.Error)
	}
}
