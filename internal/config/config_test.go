package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

func setFullEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvClusterName, "etl")
	t.Setenv(EnvJobName, "nightly")
	t.Setenv(EnvDatasetID, "raw")
	t.Setenv(EnvTableID, "events")
	t.Setenv(EnvJobMainURI, "s3://code/job.py")
	t.Setenv(EnvJobExtraArgs, "--conf, spark.executor.memory=2g,")
	t.Setenv(EnvWorkgroup, "analytics")
	t.Setenv(EnvDatabase, "dev")
	t.Setenv(EnvLoadAutodetect, "true")
	t.Setenv(EnvTagObjects, "yes")
}

func TestFromEnv(t *testing.T) {
	setFullEnv(t)
	cfg := FromEnv()

	if cfg.ClusterName != "etl" || cfg.TableID != "events" || cfg.Warehouse.Workgroup != "analytics" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !slices.Equal(cfg.JobExtraArgs, []string{"--conf", "spark.executor.memory=2g"}) {
		t.Errorf("unexpected extra args %v", cfg.JobExtraArgs)
	}
	if !cfg.LoadAutodetect {
		t.Error("LOAD_AUTODETECT=true should enable autodetect")
	}
	if cfg.TagObjects {
		t.Error("unparseable boolean should be false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_ReportsEveryMissingField(t *testing.T) {
	err := Config{}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{EnvClusterName, EnvJobName, EnvDatasetID, EnvTableID, EnvJobMainURI, "warehouse"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error %q", want, err)
		}
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	setFullEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	os.WriteFile(path, []byte(`
cluster-name: adhoc
job-extra-args: ["--num-executors", "4"]
warehouse:
  cluster-id: ""
  database: prod
run-table-typo: x
`), 0o644)

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unknown key")
	}

	os.WriteFile(path, []byte(`
cluster-name: adhoc
job-extra-args: ["--num-executors", "4"]
warehouse:
  database: prod
`), 0o644)
	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	flags := Config{TableID: "events_v2"}
	cfg := Merge(Merge(FromEnv(), file), flags)

	if cfg.ClusterName != "adhoc" {
		t.Errorf("file should override env, got %s", cfg.ClusterName)
	}
	if cfg.TableID != "events_v2" {
		t.Errorf("flags should override env, got %s", cfg.TableID)
	}
	if cfg.JobName != "nightly" {
		t.Errorf("env should remain when not overridden, got %s", cfg.JobName)
	}
	if cfg.Warehouse.Database != "prod" || cfg.Warehouse.Workgroup != "analytics" {
		t.Errorf("unexpected warehouse %+v", cfg.Warehouse)
	}
	if !slices.Equal(cfg.JobExtraArgs, []string{"--num-executors", "4"}) {
		t.Errorf("unexpected extra args %v", cfg.JobExtraArgs)
	}
	if !cfg.LoadAutodetect {
		t.Error("boolean from env should survive merge")
	}

	target := cfg.Target()
	if target.ClusterName != "adhoc" || target.DatasetID != "raw" || target.TableID != "events_v2" {
		t.Errorf("unexpected target %+v", target)
	}
}

func TestLoadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	os.WriteFile(path, nil, 0o644)
	if _, err := LoadFile(path); err != nil {
		t.Errorf("empty file should load, got %v", err)
	}
}

type fakeSSM struct {
	pages [][]ssmtypes.Parameter
	err   error
	paths []string
	calls int
}

func (f *fakeSSM) GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.paths = append(f.paths, aws.ToString(in.Path))
	out := &ssm.GetParametersByPathOutput{Parameters: f.pages[f.calls]}
	f.calls++
	if f.calls < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func param(name, value string) ssmtypes.Parameter {
	return ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestLoadTargetFromSSM(t *testing.T) {
	api := &fakeSSM{pages: [][]ssmtypes.Parameter{
		{param("/pipeline/prod/cluster-name", "etl-prod"), param("/pipeline/prod/job-name", "nightly")},
		{param("/pipeline/prod/dataset-id", "raw"), param("/pipeline/prod/table-id", "events"), param("/pipeline/prod/unrelated", "x")},
	}}
	cfg := Config{JobName: "from-env"}

	set, err := LoadTargetFromSSM(context.Background(), api, "/pipeline/prod/", &cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.calls != 2 || api.paths[0] != "/pipeline/prod" {
		t.Errorf("unexpected calls %d paths %v", api.calls, api.paths)
	}
	if cfg.ClusterName != "etl-prod" || cfg.DatasetID != "raw" || cfg.TableID != "events" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.JobName != "from-env" {
		t.Errorf("SSM should not override a set value, got %s", cfg.JobName)
	}
	if !slices.Equal(set, []string{ParamClusterName, ParamDatasetID, ParamTableID}) {
		t.Errorf("unexpected set fields %v", set)
	}
}

func TestLoadTargetFromSSM_Error(t *testing.T) {
	api := &fakeSSM{err: errors.New("AccessDeniedException")}
	if _, err := LoadTargetFromSSM(context.Background(), api, "/p", &Config{}); !errors.Is(err, api.err) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
