package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/config"
	"github.com/fpang/storage-event-pipeline/internal/lambdaboot"
	"github.com/fpang/storage-event-pipeline/internal/trigger"
)

// Object selection, shared by process and invoke.
var (
	bucketFlag string
	keyFlag    string
	uriFlag    string
)

// Target overrides for process.
var targetFlags config.Config

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the whole chain for one object from this machine",
	Long: `Process downloads the object, checks it is JSON, runs the Spark job on the
cluster and loads the object into the warehouse, exactly as the deployed
function does. Configuration is read the same way, including SSM_TARGET_PATH.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := objectEvent()
		if err != nil {
			return err
		}
		cfg := config.Merge(appConfig, targetFlags)
		if err := lambdaboot.ResolveTarget(cmd.Context(), awsClients.SSM, &cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		p, err := lambdaboot.NewPipeline(awsClients, cfg)
		if err != nil {
			return err
		}

		start := time.Now()
		if err := p.Runner.Process(cmd.Context(), ev, p.Target); err != nil {
			return err
		}
		done(cmd, "Processed %s into %s.%s in %s", ev.ObjectURI(), p.Target.DatasetID, p.Target.TableID, cli.FormatDurationShort(time.Since(start)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{processCmd, invokeCmd} {
		f := c.Flags()
		f.StringVar(&bucketFlag, "bucket", "", "Bucket of the object")
		f.StringVar(&keyFlag, "key", "", "Object key")
		f.StringVar(&uriFlag, "uri", "", "s3://bucket/key of the object (instead of --bucket and --key)")
	}

	f := processCmd.Flags()
	f.StringVar(&targetFlags.ClusterName, "cluster", "", "Cluster name (default: CLUSTER_NAME)")
	f.StringVar(&targetFlags.JobName, "job", "", "Job name (default: JOB_NAME)")
	f.StringVar(&targetFlags.DatasetID, "dataset", "", "Dataset (default: DATASET_ID)")
	f.StringVar(&targetFlags.TableID, "table", "", "Table (default: TABLE_ID)")
	f.StringVar(&targetFlags.JobMainURI, "main", "", "Application URI (default: JOB_MAIN_URI)")
	f.BoolVar(&targetFlags.LoadAutodetect, "autodetect", false, "Match JSON keys to columns ignoring case")
}

// objectEvent builds the storage event named by the flags.
func objectEvent() (trigger.Event, error) {
	ev := trigger.Event{Bucket: bucketFlag, Name: keyFlag, ProjectID: appConfig.ProjectID}
	if uriFlag != "" {
		rest, ok := strings.CutPrefix(uriFlag, "s3://")
		bucket, key, found := strings.Cut(rest, "/")
		if !ok || !found {
			return ev, fmt.Errorf("invalid object URI %q, want s3://bucket/key", uriFlag)
		}
		ev.Bucket, ev.Name = bucket, key
	}
	if ev.Bucket == "" || ev.Name == "" {
		return ev, errors.New("--bucket and --key (or --uri) are required")
	}
	return ev, nil
}
