// Package config assembles pipeline settings from environment variables, an
// optional YAML file and an optional SSM parameter path.
//
// Precedence, highest first: command-line flags (applied by the caller with
// Merge), the YAML file, environment variables. SSM parameters fill in only
// the target fields still empty after that.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fpang/storage-event-pipeline/internal/pipeline"
	"github.com/fpang/storage-event-pipeline/internal/warehouse"
)

// Environment variable names.
const (
	EnvClusterName    = "CLUSTER_NAME"
	EnvJobName        = "JOB_NAME"
	EnvDatasetID      = "DATASET_ID"
	EnvTableID        = "TABLE_ID"
	EnvSSMTargetPath  = "SSM_TARGET_PATH"
	EnvJobMainURI     = "JOB_MAIN_URI"
	EnvJobExtraArgs   = "JOB_EXTRA_ARGS"
	EnvWorkgroup      = "REDSHIFT_WORKGROUP"
	EnvRedshiftID     = "REDSHIFT_CLUSTER_ID"
	EnvDatabase       = "REDSHIFT_DATABASE"
	EnvDBUser         = "REDSHIFT_DB_USER"
	EnvSecretARN      = "REDSHIFT_SECRET_ARN"
	EnvCopyRoleARN    = "REDSHIFT_COPY_ROLE_ARN"
	EnvLoadAutodetect = "LOAD_AUTODETECT"
	EnvSchemaFile     = "LOAD_SCHEMA_FILE"
	EnvProjectID      = "PROJECT_ID"
	EnvRunsTable      = "RUNS_TABLE_NAME"
	EnvEventBus       = "EVENT_BUS_NAME"
	EnvTagObjects     = "PIPELINE_TAG_OBJECTS"
	EnvLogLevel       = "PIPELINE_LOG_LEVEL"
	EnvFunctionName   = "PIPELINE_FUNCTION_NAME"
)

// Warehouse holds the Redshift endpoint settings.
type Warehouse struct {
	Workgroup   string `yaml:"workgroup"`
	ClusterID   string `yaml:"cluster-id"`
	Database    string `yaml:"database"`
	DBUser      string `yaml:"db-user"`
	SecretARN   string `yaml:"secret-arn"`
	CopyRoleARN string `yaml:"copy-role-arn"`
}

// Config is the full pipeline configuration.
type Config struct {
	ProjectID     string `yaml:"project-id"`
	ClusterName   string `yaml:"cluster-name"`
	JobName       string `yaml:"job-name"`
	DatasetID     string `yaml:"dataset-id"`
	TableID       string `yaml:"table-id"`
	SSMTargetPath string `yaml:"ssm-target-path"`

	JobMainURI   string   `yaml:"job-main-uri"`
	JobExtraArgs []string `yaml:"job-extra-args"`

	Warehouse      Warehouse `yaml:"warehouse"`
	LoadAutodetect bool      `yaml:"load-autodetect"`
	SchemaFile     string    `yaml:"schema-file"`

	RunsTable  string `yaml:"runs-table"`
	EventBus   string `yaml:"event-bus"`
	TagObjects bool   `yaml:"tag-objects"`
	LogLevel   string `yaml:"log-level"`

	// FunctionName is the deployed process Lambda, used by the CLI's invoke.
	FunctionName string `yaml:"function-name"`
}

// FromEnv reads the configuration from environment variables.
func FromEnv() Config {
	return Config{
		ProjectID:     os.Getenv(EnvProjectID),
		ClusterName:   os.Getenv(EnvClusterName),
		JobName:       os.Getenv(EnvJobName),
		DatasetID:     os.Getenv(EnvDatasetID),
		TableID:       os.Getenv(EnvTableID),
		SSMTargetPath: os.Getenv(EnvSSMTargetPath),
		JobMainURI:    os.Getenv(EnvJobMainURI),
		JobExtraArgs:  SplitList(os.Getenv(EnvJobExtraArgs)),
		Warehouse: Warehouse{
			Workgroup:   os.Getenv(EnvWorkgroup),
			ClusterID:   os.Getenv(EnvRedshiftID),
			Database:    os.Getenv(EnvDatabase),
			DBUser:      os.Getenv(EnvDBUser),
			SecretARN:   os.Getenv(EnvSecretARN),
			CopyRoleARN: os.Getenv(EnvCopyRoleARN),
		},
		LoadAutodetect: envBool(EnvLoadAutodetect),
		SchemaFile:     os.Getenv(EnvSchemaFile),
		RunsTable:      os.Getenv(EnvRunsTable),
		EventBus:       os.Getenv(EnvEventBus),
		TagObjects:     envBool(EnvTagObjects),
		LogLevel:       os.Getenv(EnvLogLevel),
		FunctionName:   os.Getenv(EnvFunctionName),
	}
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	return err == nil && v
}

// SplitList splits a comma-separated value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Merge returns base with every non-empty field of over applied on top.
// Booleans can only be switched on by over.
func Merge(base, over Config) Config {
	out := base
	setStr(&out.ProjectID, over.ProjectID)
	setStr(&out.ClusterName, over.ClusterName)
	setStr(&out.JobName, over.JobName)
	setStr(&out.DatasetID, over.DatasetID)
	setStr(&out.TableID, over.TableID)
	setStr(&out.SSMTargetPath, over.SSMTargetPath)
	setStr(&out.JobMainURI, over.JobMainURI)
	if len(over.JobExtraArgs) > 0 {
		out.JobExtraArgs = over.JobExtraArgs
	}
	setStr(&out.Warehouse.Workgroup, over.Warehouse.Workgroup)
	setStr(&out.Warehouse.ClusterID, over.Warehouse.ClusterID)
	setStr(&out.Warehouse.Database, over.Warehouse.Database)
	setStr(&out.Warehouse.DBUser, over.Warehouse.DBUser)
	setStr(&out.Warehouse.SecretARN, over.Warehouse.SecretARN)
	setStr(&out.Warehouse.CopyRoleARN, over.Warehouse.CopyRoleARN)
	out.LoadAutodetect = out.LoadAutodetect || over.LoadAutodetect
	setStr(&out.SchemaFile, over.SchemaFile)
	setStr(&out.RunsTable, over.RunsTable)
	setStr(&out.EventBus, over.EventBus)
	out.TagObjects = out.TagObjects || over.TagObjects
	setStr(&out.LogLevel, over.LogLevel)
	setStr(&out.FunctionName, over.FunctionName)
	return out
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Target returns the externally supplied processing target.
func (c Config) Target() pipeline.Target {
	return pipeline.Target{
		ClusterName: c.ClusterName,
		JobName:     c.JobName,
		DatasetID:   c.DatasetID,
		TableID:     c.TableID,
	}
}

// WarehouseConfig returns the Redshift client settings.
func (c Config) WarehouseConfig() warehouse.Config {
	return warehouse.Config{
		WorkgroupName: c.Warehouse.Workgroup,
		ClusterID:     c.Warehouse.ClusterID,
		Database:      c.Warehouse.Database,
		DBUser:        c.Warehouse.DBUser,
		SecretARN:     c.Warehouse.SecretARN,
		CopyRoleARN:   c.Warehouse.CopyRoleARN,
	}
}

// ValidateTarget checks the four target fields.
func (c Config) ValidateTarget() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{EnvClusterName, c.ClusterName},
		{EnvJobName, c.JobName},
		{EnvDatasetID, c.DatasetID},
		{EnvTableID, c.TableID},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	return errors.Join(errs...)
}

// Validate checks everything the process chain needs.
func (c Config) Validate() error {
	errs := []error{c.ValidateTarget()}
	if c.JobMainURI == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvJobMainURI))
	}
	if err := c.WarehouseConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("warehouse: %w", err))
	}
	return errors.Join(errs...)
}
