// Package lambdaboot provides the shared cold-start bootstrap for the process
// Lambda and the pipelinectl commands that run the chain locally.
//
// Both need the same things: AWS config, the S3, EMR and Redshift Data
// clients, the resolved target (env, then SSM), and a pipeline.Runner with
// whichever side channels are configured. The Lambda treats any failure here
// as fatal; the CLI reports it as a command error.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storage-event-pipeline/internal/cluster"
	"github.com/fpang/storage-event-pipeline/internal/config"
	"github.com/fpang/storage-event-pipeline/internal/logging"
	"github.com/fpang/storage-event-pipeline/internal/notify"
	"github.com/fpang/storage-event-pipeline/internal/pipeline"
	"github.com/fpang/storage-event-pipeline/internal/s3util"
	"github.com/fpang/storage-event-pipeline/internal/store"
	"github.com/fpang/storage-event-pipeline/internal/warehouse"
)

// AWSClients holds the AWS SDK clients the pipeline is built from.
type AWSClients struct {
	Config   aws.Config
	S3       *s3.Client
	EMR      *emr.Client
	Redshift *redshiftdata.Client
	SSM      *ssm.Client
}

// NewClients creates the pipeline's clients from an existing config.
func NewClients(cfg aws.Config) AWSClients {
	return AWSClients{
		Config:   cfg,
		S3:       s3.NewFromConfig(cfg),
		EMR:      emr.NewFromConfig(cfg),
		Redshift: redshiftdata.NewFromConfig(cfg),
		SSM:      ssm.NewFromConfig(cfg),
	}
}

// InitAWS loads the default AWS config and returns the common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return NewClients(cfg)
}

// ResolveTarget fills empty target fields from the SSM path named in the
// config, if any. Values already set win.
func ResolveTarget(ctx context.Context, api config.SSMAPI, cfg *config.Config) error {
	if cfg.SSMTargetPath == "" {
		return nil
	}
	ssmStart := time.Now()
	set, err := config.LoadTargetFromSSM(ctx, api, cfg.SSMTargetPath, cfg)
	if err != nil {
		return err
	}
	log.Debug().Str("path", cfg.SSMTargetPath).Strs("fields", set).Dur("elapsed", time.Since(ssmStart)).Msg("Target loaded from SSM")
	return nil
}

// LoadConfig reads the environment, resolves the target through SSM and
// validates the result. Fatals on any error.
func LoadConfig(clients AWSClients) config.Config {
	cfg := config.FromEnv()
	if err := ResolveTarget(context.Background(), clients.SSM, &cfg); err != nil {
		log.Fatal().Err(err).Str("path", cfg.SSMTargetPath).Msg("Failed to read target from SSM")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid pipeline configuration")
	}
	return cfg
}

// InitRunStoreOptional creates the run ledger if a table is configured.
// Returns nil (with a warning) if not.
func InitRunStoreOptional(cfg aws.Config, tableName string) *store.DynamoRunStore {
	if tableName == "" {
		log.Warn().Str("envVar", config.EnvRunsTable).Msg("Runs table not set, run ledger disabled")
		return nil
	}
	return store.NewDynamoRunStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitPublisherOptional creates the outcome publisher if a bus is configured.
func InitPublisherOptional(cfg aws.Config, busName string) *notify.Publisher {
	if busName == "" {
		log.Debug().Str("envVar", config.EnvEventBus).Msg("Event bus not set, outcome events disabled")
		return nil
	}
	return notify.NewPublisher(eventbridge.NewFromConfig(cfg), busName)
}

// Pipeline is a wired Runner plus the clients it was built from.
type Pipeline struct {
	Runner    *pipeline.Runner
	Jobs      *cluster.Client
	Warehouse *warehouse.Client
	Storage   *s3util.Store
	Runs      *store.DynamoRunStore
	Publisher *notify.Publisher
	Target    pipeline.Target
}

// NewPipeline wires a Runner for cfg. The config must already be validated.
func NewPipeline(clients AWSClients, cfg config.Config) (*Pipeline, error) {
	wh, err := warehouse.NewClient(clients.Redshift, cfg.WarehouseConfig())
	if err != nil {
		return nil, err
	}
	var schema warehouse.Schema
	if cfg.SchemaFile != "" {
		if schema, err = warehouse.LoadSchemaFile(cfg.SchemaFile); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		Jobs:      cluster.NewClient(clients.EMR),
		Warehouse: wh,
		Storage:   s3util.NewStore(clients.S3),
		Runs:      InitRunStoreOptional(clients.Config, cfg.RunsTable),
		Publisher: InitPublisherOptional(clients.Config, cfg.EventBus),
		Target:    cfg.Target(),
	}
	opts := pipeline.Options{
		Storage:    p.Storage,
		Jobs:       p.Jobs,
		Loader:     p.Warehouse,
		MainURI:    cfg.JobMainURI,
		SubmitArgs: cfg.JobExtraArgs,
		Autodetect: cfg.LoadAutodetect,
		Schema:     schema,
	}
	// Typed nils must not reach the Runner's interface fields.
	if p.Runs != nil {
		opts.Ledger = p.Runs
	}
	if p.Publisher != nil {
		opts.Publisher = p.Publisher
	}
	if cfg.TagObjects {
		opts.Tagger = p.Storage
	}
	if p.Runner, err = pipeline.NewRunner(opts); err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}
	return p, nil
}

// StartupLog is a convenience wrapper for the startup logger. It registers
// every resource the pipeline was wired to.
func StartupLog(name string, initStart time.Time, cfg config.Config) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Cluster("target", cfg.ClusterName).
		Warehouse("target", cfg.WarehouseConfig().Endpoint()).
		Config("job", cfg.JobName).
		Config("jobMainUri", cfg.JobMainURI).
		Config("table", cfg.DatasetID+"."+cfg.TableID).
		Config("projectId", cfg.ProjectID).
		Feature("loadAutodetect", cfg.LoadAutodetect).
		Feature("runLedger", cfg.RunsTable != "").
		Feature("outcomeEvents", cfg.EventBus != "").
		Feature("tagObjects", cfg.TagObjects)
	if cfg.RunsTable != "" {
		sl.DynamoTable("runs", cfg.RunsTable)
	}
	if cfg.SSMTargetPath != "" {
		sl.SSMParam("target", cfg.SSMTargetPath)
	}
	if cfg.EventBus != "" {
		sl.EventBus("outcomes", cfg.EventBus)
	}
	if cfg.SchemaFile != "" {
		sl.Config("schemaFile", cfg.SchemaFile)
	}
	return sl
}
