package config

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// SSMAPI is the subset of the SSM client used to read target parameters.
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// Parameter names under the target path.
const (
	ParamClusterName = "cluster-name"
	ParamJobName     = "job-name"
	ParamDatasetID   = "dataset-id"
	ParamTableID     = "table-id"
	ParamProjectID   = "project-id"
)

// LoadTargetFromSSM reads the parameters under prefix and fills the target
// fields that are still empty. Unknown parameter names are ignored. It
// returns the names of the fields it set.
func LoadTargetFromSSM(ctx context.Context, api SSMAPI, prefix string, cfg *Config) ([]string, error) {
	start := time.Now()
	values := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(api, &ssm.GetParametersByPathInput{
		Path:           aws.String(strings.TrimSuffix(prefix, "/")),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("GetParametersByPath %s: %w", prefix, err)
		}
		for _, p := range page.Parameters {
			values[path.Base(aws.ToString(p.Name))] = aws.ToString(p.Value)
		}
	}

	var set []string
	for _, f := range []struct {
		param string
		dst   *string
	}{
		{ParamClusterName, &cfg.ClusterName},
		{ParamJobName, &cfg.JobName},
		{ParamDatasetID, &cfg.DatasetID},
		{ParamTableID, &cfg.TableID},
		{ParamProjectID, &cfg.ProjectID},
	} {
		if v := values[f.param]; v != "" && *f.dst == "" {
			*f.dst = v
			set = append(set, f.param)
		}
	}
	log.Debug().Str("path", prefix).Strs("set", set).Int("parameters", len(values)).Dur("elapsed", time.Since(start)).Msg("Target loaded from SSM")
	return set, nil
}
