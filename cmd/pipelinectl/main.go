// Command pipelinectl is the operator CLI for the storage-event pipeline.
//
// It exposes the cluster, job, warehouse, storage and run-ledger operations
// the pipeline is built on, runs the chain for one object from a workstation
// (process), and invokes the deployed function with a synthetic event
// (invoke).
//
// Settings come from the same environment variables as the Lambda, then an
// optional YAML file (--config), then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/config"
	"github.com/fpang/storage-event-pipeline/internal/jobs"
	"github.com/fpang/storage-event-pipeline/internal/lambdaboot"
	"github.com/fpang/storage-event-pipeline/internal/logging"
)

// Global flags
var (
	configFlag   string
	regionFlag   string
	profileFlag  string
	logGroupFlag string
	projectFlag  string
	yesFlag      bool
)

// Set by PersistentPreRunE.
var (
	appConfig  config.Config
	awsClients lambdaboot.AWSClients
	logMirror  *logging.CloudWatchWriter
)

// rootCmd is the main Cobra command for pipelinectl.
var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Operate the S3 to EMR to Redshift storage-event pipeline",
	Long: `pipelinectl manages the pieces of the storage-event pipeline: EMR clusters
and Spark jobs, Redshift schemas and tables, objects in the watched bucket and
the run ledger. It can also run the whole chain for one object locally or
invoke the deployed function.

Examples:
  pipelinectl cluster list
  pipelinectl job submit --cluster etl --name nightly --main s3://code/job.py
  pipelinectl warehouse load --dataset raw --table events --uri s3://incoming/e.json
  pipelinectl process --bucket incoming --key 2026/03/01/events.json
  pipelinectl --config pipeline.yaml invoke --bucket incoming --key events.json`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.Version = commitHash
	if buildTime != "" {
		rootCmd.Version += " (built " + buildTime + ")"
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", "", "YAML config file (overrides environment variables)")
	pf.StringVar(&regionFlag, "region", "", "AWS region (default: from the AWS config chain)")
	pf.StringVar(&profileFlag, "profile", "", "AWS shared config profile")
	pf.StringVar(&logGroupFlag, "log-group", "", "Also ship this run's logs to a CloudWatch Logs group")
	pf.StringVarP(&projectFlag, "project", "p", "", "Project ID (overrides PROJECT_ID)")
	pf.BoolVarP(&yesFlag, "yes", "y", false, "Do not prompt before destructive operations")

	rootCmd.AddCommand(clusterCmd, jobCmd, warehouseCmd, storageCmd, runsCmd, processCmd, invokeCmd)
}

func main() {
	err := rootCmd.Execute()
	flushLogs()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and AWS clients before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	logging.Init()

	cfg := config.FromEnv()
	if configFlag != "" {
		fileCfg, err := config.LoadFile(configFlag)
		if err != nil {
			return err
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	cfg = config.Merge(cfg, config.Config{ProjectID: projectFlag})
	if cfg.LogLevel != "" {
		os.Setenv(config.EnvLogLevel, cfg.LogLevel)
	}

	awsCfg, err := cli.LoadAWSConfig(cmd.Context(), regionFlag, profileFlag)
	if err != nil {
		return err
	}
	awsClients = lambdaboot.NewClients(awsCfg)

	if logGroupFlag != "" {
		stream := fmt.Sprintf("pipelinectl/%s/%s", time.Now().UTC().Format("2006/01/02"), jobs.NewRunID())
		logMirror = logging.NewCloudWatchWriter(cloudwatchlogs.NewFromConfig(awsCfg), logGroupFlag, stream)
		logging.Init(logMirror)
	} else if cfg.LogLevel != "" {
		logging.Init()
	}

	appConfig = cfg
	log.Debug().Str("command", cmd.CommandPath()).Str("region", awsCfg.Region).Msg("pipelinectl ready")
	return nil
}

// flushLogs ships buffered logs to the CloudWatch mirror, if any.
func flushLogs() {
	if logMirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := logMirror.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to ship logs to %s: %v\n", logGroupFlag, err)
	}
}

// confirm asks before a destructive operation unless --yes was given.
func confirm(cmd *cobra.Command, question string) bool {
	if yesFlag {
		return true
	}
	return cli.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), question)
}

// errAborted is returned when the operator declines a confirmation.
var errAborted = errors.New("aborted")
