package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/client"
	"github.com/vyvo/appsvcbuild/pkg/runs"
)

var (
	submitFile     string
	submitStack    string
	submitVersions []string
	submitTries    int
	submitSave     bool
	submitUseCache bool
	submitQueue    bool
	submitWait     bool
	submitInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a batch of build requests",
	Long: `Submit a batch of build requests to the pipeline.

The batch is read from --file (JSON or YAML) or built from --stack and --version.
Without --queue the command blocks until the pipeline answers.`,
	Example: `  appsvcbuildctl submit --stack python --version 3.7 --version 3.8
  appsvcbuildctl submit -f batch.yaml --queue --wait`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "batch file (.json, .yaml or .yml)")
	submitCmd.Flags().StringVar(&submitStack, "stack", "", "stack of the requests")
	submitCmd.Flags().StringSliceVar(&submitVersions, "version", nil, "version to build, repeatable")
	submitCmd.Flags().IntVar(&submitTries, "tries", 0, "attempts per request (0 uses the stack default)")
	submitCmd.Flags().BoolVar(&submitSave, "save-artifacts", true, "keep repositories, images and sites under canonical names")
	submitCmd.Flags().BoolVar(&submitUseCache, "use-cache", false, "allow the registry build cache")
	submitCmd.Flags().BoolVar(&submitQueue, "queue", false, "queue the batch for a worker instead of waiting")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "with --queue, poll until the run finishes")
	submitCmd.Flags().DurationVar(&submitInterval, "interval", 15*time.Second, "poll interval for --wait")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	batch, err := submitBatch(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c := newClient()

	if !submitQueue {
		res, err := c.RunBatch(ctx, batch)
		if res.RunID != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s\n", res.RunID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		return nil
	}

	out, err := c.EnqueueBatch(ctx, batch)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued run %s\n", out.RunID)
	if !submitWait {
		return nil
	}
	run, err := waitForRun(ctx, c, out.RunID, submitInterval)
	if err != nil {
		return err
	}
	printRun(cmd, run)
	if run.Status == runs.StatusFailed {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return nil
}

func submitBatch(cmd *cobra.Command) (buildrequest.Batch, error) {
	if submitFile != "" {
		if submitStack != "" || len(submitVersions) > 0 {
			return buildrequest.Batch{}, errors.New("--file cannot be combined with --stack or --version")
		}
		return readBatchFile(submitFile)
	}
	if submitStack == "" || len(submitVersions) == 0 {
		return buildrequest.Batch{}, errors.New("either --file or --stack with at least one --version is required")
	}
	var batch buildrequest.Batch
	for _, v := range submitVersions {
		r := buildrequest.BuildRequest{
			Stack:    submitStack,
			Version:  strings.TrimSpace(v),
			Tries:    submitTries,
			UseCache: submitUseCache,
		}
		if cmd.Flags().Changed("save-artifacts") {
			r.SaveArtifacts = buildrequest.Bool(submitSave)
		}
		batch.BuildRequests = append(batch.BuildRequests, r)
	}
	return batch, nil
}

// readBatchFile loads a batch from JSON or YAML and validates it like the service does.
func readBatchFile(path string) (buildrequest.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return buildrequest.Batch{}, fmt.Errorf("read batch file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var batch buildrequest.Batch
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return buildrequest.Batch{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(batch); err != nil {
			return buildrequest.Batch{}, fmt.Errorf("encode batch: %w", err)
		}
	}
	return buildrequest.ParseBatch(data)
}

// waitForRun polls the run until it reaches a final state.
func waitForRun(ctx context.Context, c *client.Client, runID string, interval time.Duration) (runs.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return runs.Run{}, err
		}
		if run.Status.Finished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return runs.Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
