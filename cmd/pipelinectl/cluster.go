package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/cluster"
)

var (
	clusterAllFlag     bool
	clusterSpecFlags   cluster.ClusterSpec
	clusterTagsFlag    map[string]string
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage EMR clusters",
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a Spark cluster and wait until it can accept jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := clusterSpecFlags
		spec.Name = args[0]
		spec.Tags = clusterTagsFlag
		info, err := emrClient().CreateCluster(cmd.Context(), spec)
		if err != nil {
			return err
		}
		return renderClusters(cmd, info)
	},
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active clusters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := emrClient().ListClusters(cmd.Context(), clusterAllFlag)
		if err != nil {
			return err
		}
		return renderClusters(cmd, infos...)
	},
}

var clusterGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := emrClient().GetCluster(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return renderClusters(cmd, info)
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Terminate a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm(cmd, fmt.Sprintf("Terminate cluster %s?", args[0])) {
			return errAborted
		}
		if err := emrClient().DeleteCluster(cmd.Context(), args[0]); err != nil {
			return err
		}
		done(cmd, "Cluster %s terminating", args[0])
		return nil
	},
}

var clusterResizeCmd = &cobra.Command{
	Use:   "resize NAME WORKERS",
	Short: "Change the number of core (worker) nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil || workers < 1 {
			return fmt.Errorf("invalid worker count %q", args[1])
		}
		if err := emrClient().ResizeCluster(cmd.Context(), args[0], int32(workers)); err != nil {
			return err
		}
		done(cmd, "Cluster %s resizing to %d workers", args[0], workers)
		return nil
	},
}

func init() {
	f := clusterCreateCmd.Flags()
	f.StringVar(&clusterSpecFlags.ReleaseLabel, "release", cluster.DefaultReleaseLabel, "EMR release label")
	f.StringVar(&clusterSpecFlags.MasterInstanceType, "master-type", cluster.DefaultInstanceType, "Master instance type")
	f.StringVar(&clusterSpecFlags.WorkerInstanceType, "worker-type", cluster.DefaultInstanceType, "Worker instance type")
	f.Int32Var(&clusterSpecFlags.Workers, "workers", cluster.DefaultWorkers, "Number of core nodes")
	f.StringVar(&clusterSpecFlags.SubnetID, "subnet", "", "EC2 subnet ID")
	f.StringVar(&clusterSpecFlags.LogURI, "log-uri", "", "S3 URI for cluster logs")
	f.StringVar(&clusterSpecFlags.JobFlowRole, "instance-profile", cluster.DefaultJobFlowRole, "EC2 instance profile")
	f.StringVar(&clusterSpecFlags.ServiceRole, "service-role", cluster.DefaultServiceRole, "EMR service role")
	f.StringToStringVar(&clusterTagsFlag, "tag", nil, "Cluster tags (key=value, repeatable)")

	clusterListCmd.Flags().BoolVar(&clusterAllFlag, "all", false, "Include terminated clusters")

	clusterCmd.AddCommand(clusterCreateCmd, clusterListCmd, clusterGetCmd, clusterDeleteCmd, clusterResizeCmd)
}

func emrClient() *cluster.Client {
	return cluster.NewClient(awsClients.EMR)
}

func renderClusters(cmd *cobra.Command, infos ...*cluster.Info) error {
	rows := make([][]string, 0, len(infos))
	for _, c := range infos {
		rows = append(rows, []string{c.ID, c.Name, c.State, c.ReleaseLabel, cli.FormatTime(c.CreatedAt), c.StateReason})
	}
	return render(cmd, infos, []string{"id", "name", "state", "release", "created", "reason"}, rows)
}
