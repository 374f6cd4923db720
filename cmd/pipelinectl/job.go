package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/cluster"
)

var (
	jobClusterFlag    string
	jobNameFlag       string
	jobMainFlag       string
	jobSubmitArgsFlag []string
	jobStateFlag      string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and manage Spark jobs (EMR steps)",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit [-- APP_ARGS...]",
	Short: "Submit a Spark job and wait for it to finish",
	Long: `Submit runs spark-submit on the cluster as an EMR step and waits until the
step completes. Arguments after -- are passed to the application.

Cluster, job name and main URI default to CLUSTER_NAME, JOB_NAME and
JOB_MAIN_URI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterName := orDefault(jobClusterFlag, appConfig.ClusterName)
		if clusterName == "" {
			return errors.New("--cluster is required")
		}
		submitArgs := jobSubmitArgsFlag
		if len(submitArgs) == 0 {
			submitArgs = appConfig.JobExtraArgs
		}
		job, err := emrClient().SubmitJob(cmd.Context(), clusterName, cluster.JobSpec{
			Name:       orDefault(jobNameFlag, appConfig.JobName),
			MainURI:    orDefault(jobMainFlag, appConfig.JobMainURI),
			SubmitArgs: submitArgs,
			Args:       args,
		})
		if job != nil {
			if rerr := renderJobs(cmd, job); rerr != nil && err == nil {
				err = rerr
			}
		}
		return err
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get STEP_ID",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterName, err := jobCluster()
		if err != nil {
			return err
		}
		job, err := emrClient().GetJob(cmd.Context(), clusterName, args[0])
		if err != nil {
			return err
		}
		return renderJobs(cmd, job)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs on a cluster, optionally filtered by state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterName, err := jobCluster()
		if err != nil {
			return err
		}
		list, err := emrClient().ListJobs(cmd.Context(), clusterName, jobStateFlag)
		if err != nil {
			return err
		}
		return renderJobs(cmd, list...)
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel STEP_ID",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterName, err := jobCluster()
		if err != nil {
			return err
		}
		if !confirm(cmd, fmt.Sprintf("Cancel job %s on %s?", args[0], clusterName)) {
			return errAborted
		}
		if err := emrClient().CancelJob(cmd.Context(), clusterName, args[0]); err != nil {
			return err
		}
		done(cmd, "Job %s cancelled", args[0])
		return nil
	},
}

func init() {
	jobCmd.PersistentFlags().StringVar(&jobClusterFlag, "cluster", "", "Cluster name or ID (default: CLUSTER_NAME)")

	f := jobSubmitCmd.Flags()
	f.StringVar(&jobNameFlag, "name", "", "Job name (default: JOB_NAME)")
	f.StringVar(&jobMainFlag, "main", "", "Application URI passed to spark-submit (default: JOB_MAIN_URI)")
	f.StringArrayVar(&jobSubmitArgsFlag, "submit-arg", nil, "Extra spark-submit argument (repeatable)")

	jobListCmd.Flags().StringVar(&jobStateFlag, "state", "", "Only jobs in this state (PENDING, RUNNING, COMPLETED, CANCELLED, FAILED, ...)")

	jobCmd.AddCommand(jobSubmitCmd, jobGetCmd, jobListCmd, jobCancelCmd)
}

func jobCluster() (string, error) {
	name := orDefault(jobClusterFlag, appConfig.ClusterName)
	if name == "" {
		return "", errors.New("--cluster is required")
	}
	return name, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func renderJobs(cmd *cobra.Command, list ...*cluster.Job) error {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		elapsed := ""
		if !j.EndedAt.IsZero() && !j.CreatedAt.IsZero() {
			elapsed = cli.FormatDurationShort(j.EndedAt.Sub(j.CreatedAt))
		}
		rows = append(rows, []string{j.StepID, j.Name, j.State, cli.FormatTime(j.CreatedAt), elapsed, j.FailureReason})
	}
	return render(cmd, list, []string{"step", "name", "state", "created", "elapsed", "failure"}, rows)
}
