package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/rs/zerolog/log"
)

// Defaults for CreateCluster: one master and two workers.
const (
	DefaultReleaseLabel = "emr-7.1.0"
	DefaultInstanceType = "m5.xlarge"
	DefaultWorkers      = 2
	DefaultJobFlowRole  = "EMR_EC2_DefaultRole"
	DefaultServiceRole  = "EMR_DefaultRole"
)

// ErrNoCoreGroup is returned by ResizeCluster for clusters without a CORE
// instance group (e.g. instance-fleet clusters).
var ErrNoCoreGroup = errors.New("cluster has no CORE instance group")

// ClusterSpec describes a cluster to create.
type ClusterSpec struct {
	Name               string
	ReleaseLabel       string
	MasterInstanceType string
	WorkerInstanceType string
	Workers            int32
	SubnetID           string
	LogURI             string
	JobFlowRole        string
	ServiceRole        string
	Tags               map[string]string
}

func (s *ClusterSpec) applyDefaults() {
	if s.ReleaseLabel == "" {
		s.ReleaseLabel = DefaultReleaseLabel
	}
	if s.MasterInstanceType == "" {
		s.MasterInstanceType = DefaultInstanceType
	}
	if s.WorkerInstanceType == "" {
		s.WorkerInstanceType = DefaultInstanceType
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.JobFlowRole == "" {
		s.JobFlowRole = DefaultJobFlowRole
	}
	if s.ServiceRole == "" {
		s.ServiceRole = DefaultServiceRole
	}
}

// RunJobFlowInput builds the request for a long-running Spark cluster that
// stays up between steps.
func (s ClusterSpec) RunJobFlowInput() *emr.RunJobFlowInput {
	s.applyDefaults()
	input := &emr.RunJobFlowInput{
		Name:         aws.String(s.Name),
		ReleaseLabel: aws.String(s.ReleaseLabel),
		Applications: []emrtypes.Application{{Name: aws.String("Spark")}},
		Instances: &emrtypes.JobFlowInstancesConfig{
			InstanceGroups: []emrtypes.InstanceGroupConfig{
				{
					Name:          aws.String("master"),
					InstanceRole:  emrtypes.InstanceRoleTypeMaster,
					InstanceType:  aws.String(s.MasterInstanceType),
					InstanceCount: aws.Int32(1),
				},
				{
					Name:          aws.String("workers"),
					InstanceRole:  emrtypes.InstanceRoleTypeCore,
					InstanceType:  aws.String(s.WorkerInstanceType),
					InstanceCount: aws.Int32(s.Workers),
				},
			},
			KeepJobFlowAliveWhenNoSteps: aws.Bool(true),
		},
		JobFlowRole:       aws.String(s.JobFlowRole),
		ServiceRole:       aws.String(s.ServiceRole),
		VisibleToAllUsers: aws.Bool(true),
	}
	if s.SubnetID != "" {
		input.Instances.Ec2SubnetId = aws.String(s.SubnetID)
	}
	if s.LogURI != "" {
		input.LogUri = aws.String(s.LogURI)
	}
	for k, v := range s.Tags {
		input.Tags = append(input.Tags, emrtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return input
}

// Info is a cluster summary.
type Info struct {
	ID            string
	Name          string
	State         string
	StateReason   string
	ReleaseLabel  string
	MasterDNS     string
	InstanceHours int32
	CreatedAt     time.Time
}

func infoFromSummary(s emrtypes.ClusterSummary) *Info {
	info := &Info{
		ID:            aws.ToString(s.Id),
		Name:          aws.ToString(s.Name),
		InstanceHours: aws.ToInt32(s.NormalizedInstanceHours),
	}
	if st := s.Status; st != nil {
		info.State = string(st.State)
		if st.StateChangeReason != nil {
			info.StateReason = aws.ToString(st.StateChangeReason.Message)
		}
		if st.Timeline != nil {
			info.CreatedAt = aws.ToTime(st.Timeline.CreationDateTime)
		}
	}
	return info
}

func infoFromCluster(c *emrtypes.Cluster) *Info {
	info := &Info{
		ID:            aws.ToString(c.Id),
		Name:          aws.ToString(c.Name),
		ReleaseLabel:  aws.ToString(c.ReleaseLabel),
		MasterDNS:     aws.ToString(c.MasterPublicDnsName),
		InstanceHours: aws.ToInt32(c.NormalizedInstanceHours),
	}
	if st := c.Status; st != nil {
		info.State = string(st.State)
		if st.StateChangeReason != nil {
			info.StateReason = aws.ToString(st.StateChangeReason.Message)
		}
		if st.Timeline != nil {
			info.CreatedAt = aws.ToTime(st.Timeline.CreationDateTime)
		}
	}
	return info
}

// CreateCluster starts a cluster and waits until it can accept steps.
func (c *Client) CreateCluster(ctx context.Context, spec ClusterSpec) (*Info, error) {
	if spec.Name == "" {
		return nil, errors.New("cluster name is required")
	}
	out, err := c.api.RunJobFlow(ctx, spec.RunJobFlowInput())
	if err != nil {
		return nil, fmt.Errorf("RunJobFlow: %w", err)
	}
	clusterID := aws.ToString(out.JobFlowId)
	log.Info().Str("cluster", spec.Name).Str("clusterId", clusterID).Msg("Cluster creation started")

	waiter := emr.NewClusterRunningWaiter(c.api, func(o *emr.ClusterRunningWaiterOptions) {
		if c.waiterDelay > 0 {
			o.MinDelay = c.waiterDelay
			o.MaxDelay = c.waiterDelay
		}
	})
	final, err := waiter.WaitForOutput(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(clusterID)}, c.createTimeout)
	if err != nil {
		return &Info{ID: clusterID, Name: spec.Name}, fmt.Errorf("wait for cluster %s (%s): %w", spec.Name, clusterID, err)
	}
	log.Info().Str("cluster", spec.Name).Str("clusterId", clusterID).Msgf("Cluster %s created.", spec.Name)
	if final != nil && final.Cluster != nil {
		return infoFromCluster(final.Cluster), nil
	}
	return &Info{ID: clusterID, Name: spec.Name}, nil
}

// ListClusters lists active clusters, or all recent clusters when all is set.
func (c *Client) ListClusters(ctx context.Context, all bool) ([]*Info, error) {
	input := &emr.ListClustersInput{}
	if !all {
		input.ClusterStates = activeStates
	}
	var clusters []*Info
	paginator := emr.NewListClustersPaginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListClusters: %w", err)
		}
		for _, s := range page.Clusters {
			clusters = append(clusters, infoFromSummary(s))
		}
	}
	return clusters, nil
}

// GetCluster describes the named cluster.
func (c *Client) GetCluster(ctx context.Context, name string) (*Info, error) {
	clusterID, err := c.ResolveClusterID(ctx, name)
	if err != nil {
		return nil, err
	}
	out, err := c.api.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(clusterID)})
	if err != nil {
		return nil, fmt.Errorf("DescribeCluster: %w", err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("DescribeCluster %s: empty response", clusterID)
	}
	return infoFromCluster(out.Cluster), nil
}

// DeleteCluster terminates the named cluster. It does not wait for the
// instances to shut down.
func (c *Client) DeleteCluster(ctx context.Context, name string) error {
	clusterID, err := c.ResolveClusterID(ctx, name)
	if err != nil {
		return err
	}
	if _, err := c.api.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{
		JobFlowIds: []string{clusterID},
	}); err != nil {
		return fmt.Errorf("TerminateJobFlows: %w", err)
	}
	log.Info().Str("cluster", name).Str("clusterId", clusterID).Msgf("Cluster %s deleted.", name)
	return nil
}

// ResizeCluster sets the instance count of the cluster's CORE group.
func (c *Client) ResizeCluster(ctx context.Context, name string, workers int32) error {
	if workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", workers)
	}
	clusterID, err := c.ResolveClusterID(ctx, name)
	if err != nil {
		return err
	}

	var coreID string
	paginator := emr.NewListInstanceGroupsPaginator(c.api, &emr.ListInstanceGroupsInput{ClusterId: aws.String(clusterID)})
	for paginator.HasMorePages() && coreID == "" {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("ListInstanceGroups: %w", err)
		}
		for _, g := range page.InstanceGroups {
			if g.InstanceGroupType == emrtypes.InstanceGroupTypeCore {
				coreID = aws.ToString(g.Id)
				break
			}
		}
	}
	if coreID == "" {
		return fmt.Errorf("%w: %s", ErrNoCoreGroup, clusterID)
	}

	if _, err := c.api.ModifyInstanceGroups(ctx, &emr.ModifyInstanceGroupsInput{
		ClusterId: aws.String(clusterID),
		InstanceGroups: []emrtypes.InstanceGroupModifyConfig{{
			InstanceGroupId: aws.String(coreID),
			InstanceCount:   aws.Int32(workers),
		}},
	}); err != nil {
		return fmt.Errorf("ModifyInstanceGroups: %w", err)
	}
	log.Info().Str("clusterId", clusterID).Str("instanceGroupId", coreID).Int32("workers", workers).Msg("Cluster resize requested")
	return nil
}
