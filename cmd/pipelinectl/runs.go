package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/jobs"
	"github.com/fpang/storage-event-pipeline/internal/lambdaboot"
	"github.com/fpang/storage-event-pipeline/internal/store"
)

var runsLimitFlag int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger (RUNS_TABLE_NAME)",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's most recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, project, err := runStore()
		if err != nil {
			return err
		}
		list, err := runs.ListRuns(cmd.Context(), project, runsLimitFlag)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, r := range list {
			elapsed := ""
			if !r.FinishedAt.IsZero() {
				elapsed = cli.FormatDurationShort(r.FinishedAt.Sub(r.StartedAt))
			}
			rows = append(rows, []string{r.RunID, r.Status, r.Stage, cli.FormatTime(r.StartedAt), elapsed, "s3://" + r.Bucket + "/" + r.Key, r.ErrorCode})
		}
		return render(cmd, list, []string{"run", "status", "stage", "started", "elapsed", "object", "error"}, rows)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, project, err := runStore()
		if err != nil {
			return err
		}
		runID := jobs.NormalizeRunID(args[0])
		r, err := runs.GetRun(cmd.Context(), project, runID)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("run %s not found in project %s", runID, project)
		}
		return render(cmd, r, []string{"field", "value"}, [][]string{
			{"run", r.RunID},
			{"status", r.Status},
			{"stage", r.Stage},
			{"object", "s3://" + r.Bucket + "/" + r.Key},
			{"cluster", r.ClusterName},
			{"step", r.StepID},
			{"table", r.Table},
			{"statement", r.StatementID},
			{"documents", strconv.Itoa(r.Documents)},
			{"bytes", strconv.FormatInt(r.Bytes, 10)},
			{"started", cli.FormatTime(r.StartedAt)},
			{"finished", cli.FormatTime(r.FinishedAt)},
			{"error", r.Error},
		})
	},
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimitFlag, "limit", "n", store.DefaultListLimit, "Maximum runs to show")
	runsCmd.AddCommand(runsListCmd, runsGetCmd)
}

func runStore() (*store.DynamoRunStore, string, error) {
	if appConfig.RunsTable == "" {
		return nil, "", errors.New("no run ledger configured; set RUNS_TABLE_NAME or runs-table")
	}
	if appConfig.ProjectID == "" {
		return nil, "", errors.New("--project is required")
	}
	return lambdaboot.InitRunStoreOptional(awsClients.Config, appConfig.RunsTable), appConfig.ProjectID, nil
}
