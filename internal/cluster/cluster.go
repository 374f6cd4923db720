// Package cluster wraps the Amazon EMR API: submitting Spark jobs (EMR steps)
// to an existing cluster and the small set of cluster and job management
// calls operators need around it.
//
// Clusters are addressed by name, the way the pipeline is configured. Names
// are resolved to cluster IDs among active clusters on every call; an EMR
// cluster ID ("j-...") is also accepted and used as is.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClusterNotFound is returned when no active cluster has the name.
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrAmbiguousCluster is returned when several active clusters share a name.
	ErrAmbiguousCluster = errors.New("cluster name matches more than one active cluster")
)

// DefaultStepTimeout bounds how long SubmitJob waits for a step to finish.
const DefaultStepTimeout = 60 * time.Minute

// DefaultCreateTimeout bounds how long CreateCluster waits for the cluster.
const DefaultCreateTimeout = 30 * time.Minute

// activeStates are the cluster states that can accept steps.
var activeStates = []emrtypes.ClusterState{
	emrtypes.ClusterStateStarting,
	emrtypes.ClusterStateBootstrapping,
	emrtypes.ClusterStateRunning,
	emrtypes.ClusterStateWaiting,
}

// API is the subset of the EMR client used by Client.
type API interface {
	AddJobFlowSteps(ctx context.Context, params *emr.AddJobFlowStepsInput, optFns ...func(*emr.Options)) (*emr.AddJobFlowStepsOutput, error)
	CancelSteps(ctx context.Context, params *emr.CancelStepsInput, optFns ...func(*emr.Options)) (*emr.CancelStepsOutput, error)
	DescribeCluster(ctx context.Context, params *emr.DescribeClusterInput, optFns ...func(*emr.Options)) (*emr.DescribeClusterOutput, error)
	DescribeStep(ctx context.Context, params *emr.DescribeStepInput, optFns ...func(*emr.Options)) (*emr.DescribeStepOutput, error)
	ListClusters(ctx context.Context, params *emr.ListClustersInput, optFns ...func(*emr.Options)) (*emr.ListClustersOutput, error)
	ListInstanceGroups(ctx context.Context, params *emr.ListInstanceGroupsInput, optFns ...func(*emr.Options)) (*emr.ListInstanceGroupsOutput, error)
	ListSteps(ctx context.Context, params *emr.ListStepsInput, optFns ...func(*emr.Options)) (*emr.ListStepsOutput, error)
	ModifyInstanceGroups(ctx context.Context, params *emr.ModifyInstanceGroupsInput, optFns ...func(*emr.Options)) (*emr.ModifyInstanceGroupsOutput, error)
	RunJobFlow(ctx context.Context, params *emr.RunJobFlowInput, optFns ...func(*emr.Options)) (*emr.RunJobFlowOutput, error)
	TerminateJobFlows(ctx context.Context, params *emr.TerminateJobFlowsInput, optFns ...func(*emr.Options)) (*emr.TerminateJobFlowsOutput, error)
}

// Client submits and manages jobs on EMR clusters.
type Client struct {
	api           API
	stepTimeout   time.Duration
	createTimeout time.Duration
	// waiterDelay overrides the SDK waiters' minimum poll delay when set.
	waiterDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithStepTimeout sets how long SubmitJob waits for the step to complete.
func WithStepTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.stepTimeout = d
		}
	}
}

// WithCreateTimeout sets how long CreateCluster waits for the cluster.
func WithCreateTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.createTimeout = d
		}
	}
}

// WithWaiterDelay sets the minimum delay between waiter polls.
func WithWaiterDelay(d time.Duration) Option {
	return func(c *Client) { c.waiterDelay = d }
}

// NewClient creates a Client around an EMR API implementation (usually
// *emr.Client).
func NewClient(api API, opts ...Option) *Client {
	c := &Client{
		api:           api,
		stepTimeout:   DefaultStepTimeout,
		createTimeout: DefaultCreateTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// clusterIDPattern matches EMR cluster IDs such as "j-2AXXXXXXGAPLF".
var clusterIDPattern = regexp.MustCompile(`^j-[0-9A-Z]+$`)

// isClusterID reports whether s looks like an EMR cluster ID.
func isClusterID(s string) bool {
	return clusterIDPattern.MatchString(s)
}

// ResolveClusterID returns the ID of the active cluster with the given name.
func (c *Client) ResolveClusterID(ctx context.Context, name string) (string, error) {
	if isClusterID(name) {
		return name, nil
	}

	var matches []string
	paginator := emr.NewListClustersPaginator(c.api, &emr.ListClustersInput{
		ClusterStates: activeStates,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("ListClusters: %w", err)
		}
		for _, summary := range page.Clusters {
			if aws.ToString(summary.Name) == name {
				matches = append(matches, aws.ToString(summary.Id))
			}
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	case 1:
		log.Debug().Str("cluster", name).Str("clusterId", matches[0]).Msg("Resolved cluster name")
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrAmbiguousCluster, name, strings.Join(matches, ", "))
	}
}
