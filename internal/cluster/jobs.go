package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/rs/zerolog/log"
)

// ErrInvalidState is returned by ListJobs for an unknown step state.
var ErrInvalidState = errors.New("invalid job state")

// JobSpec describes a Spark job to run as an EMR step.
type JobSpec struct {
	// Name is the step name shown in the EMR console.
	Name string
	// MainURI is the application passed to spark-submit (a .py file or jar).
	MainURI string
	// SubmitArgs go to spark-submit before MainURI (e.g. "--conf", "k=v").
	SubmitArgs []string
	// Args go to the application after MainURI.
	Args []string
}

// Validate checks the job has what EMR needs.
func (s JobSpec) Validate() error {
	if s.Name == "" {
		return errors.New("job name is required")
	}
	if s.MainURI == "" {
		return errors.New("job main URI is required")
	}
	return nil
}

// StepConfig builds the command-runner step that spark-submits the job in
// cluster deploy mode. A failed step leaves the cluster running.
func (s JobSpec) StepConfig() emrtypes.StepConfig {
	args := []string{"spark-submit", "--deploy-mode", "cluster"}
	args = append(args, s.SubmitArgs...)
	args = append(args, s.MainURI)
	args = append(args, s.Args...)
	return emrtypes.StepConfig{
		Name:            aws.String(s.Name),
		ActionOnFailure: emrtypes.ActionOnFailureContinue,
		HadoopJarStep: &emrtypes.HadoopJarStepConfig{
			Jar:  aws.String("command-runner.jar"),
			Args: args,
		},
	}
}

// Job is an EMR step and its last observed state.
type Job struct {
	ClusterID     string
	StepID        string
	Name          string
	State         string
	FailureReason string
	CreatedAt     time.Time
	EndedAt       time.Time
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	switch emrtypes.StepState(j.State) {
	case emrtypes.StepStateCompleted, emrtypes.StepStateCancelled,
		emrtypes.StepStateFailed, emrtypes.StepStateInterrupted:
		return true
	}
	return false
}

func jobFromStep(clusterID string, step *emrtypes.Step) *Job {
	return newJob(clusterID, step.Id, step.Name, step.Status)
}

func jobFromSummary(clusterID string, step emrtypes.StepSummary) *Job {
	return newJob(clusterID, step.Id, step.Name, step.Status)
}

// newJob builds a Job from the fields Step and StepSummary share.
func newJob(clusterID string, id, name *string, st *emrtypes.StepStatus) *Job {
	job := &Job{
		ClusterID: clusterID,
		StepID:    aws.ToString(id),
		Name:      aws.ToString(name),
	}
	if st == nil {
		return job
	}
	job.State = string(st.State)
	if fd := st.FailureDetails; fd != nil {
		job.FailureReason = strings.TrimSpace(aws.ToString(fd.Reason) + " " + aws.ToString(fd.Message))
	}
	if tl := st.Timeline; tl != nil {
		job.CreatedAt = aws.ToTime(tl.CreationDateTime)
		job.EndedAt = aws.ToTime(tl.EndDateTime)
	}
	return job
}

// SubmitJob adds the job as a step on the named cluster and blocks until the
// step completes. The returned Job is non-nil whenever the step was added,
// including when waiting for it fails.
func (c *Client) SubmitJob(ctx context.Context, clusterName string, spec JobSpec) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	clusterID, err := c.ResolveClusterID(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	out, err := c.api.AddJobFlowSteps(ctx, &emr.AddJobFlowStepsInput{
		JobFlowId: aws.String(clusterID),
		Steps:     []emrtypes.StepConfig{spec.StepConfig()},
	})
	if err != nil {
		return nil, fmt.Errorf("AddJobFlowSteps: %w", err)
	}
	if len(out.StepIds) == 0 {
		return nil, fmt.Errorf("AddJobFlowSteps: no step ID returned for cluster %s", clusterID)
	}

	job := &Job{ClusterID: clusterID, StepID: out.StepIds[0], Name: spec.Name, State: string(emrtypes.StepStatePending)}
	log.Info().
		Str("cluster", clusterName).
		Str("clusterId", clusterID).
		Str("stepId", job.StepID).
		Str("job", spec.Name).
		Msg("Job submitted")

	start := time.Now()
	waiter := emr.NewStepCompleteWaiter(c.api, func(o *emr.StepCompleteWaiterOptions) {
		if c.waiterDelay > 0 {
			o.MinDelay = c.waiterDelay
			o.MaxDelay = c.waiterDelay
		}
	})
	final, waitErr := waiter.WaitForOutput(ctx, &emr.DescribeStepInput{
		ClusterId: aws.String(clusterID),
		StepId:    aws.String(job.StepID),
	}, c.stepTimeout)
	if waitErr != nil {
		// The waiter's error only says "transitioned to Failure"; fetch the reason.
		if cur, err := c.describeStep(ctx, clusterID, job.StepID); err == nil {
			job = cur
		}
		if job.FailureReason != "" {
			return job, fmt.Errorf("job %s (%s) %s: %s: %w", spec.Name, job.StepID, strings.ToLower(job.State), job.FailureReason, waitErr)
		}
		return job, fmt.Errorf("wait for job %s (%s): %w", spec.Name, job.StepID, waitErr)
	}
	if final != nil && final.Step != nil {
		job = jobFromStep(clusterID, final.Step)
	}

	log.Info().
		Str("clusterId", clusterID).
		Str("stepId", job.StepID).
		Str("state", job.State).
		Dur("elapsed", time.Since(start)).
		Msgf("Job %s completed", spec.Name)
	return job, nil
}

func (c *Client) describeStep(ctx context.Context, clusterID, stepID string) (*Job, error) {
	out, err := c.api.DescribeStep(ctx, &emr.DescribeStepInput{
		ClusterId: aws.String(clusterID),
		StepId:    aws.String(stepID),
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeStep %s: %w", stepID, err)
	}
	if out.Step == nil {
		return nil, fmt.Errorf("DescribeStep %s: empty response", stepID)
	}
	return jobFromStep(clusterID, out.Step), nil
}

// GetJob returns the current state of a step.
func (c *Client) GetJob(ctx context.Context, clusterName, stepID string) (*Job, error) {
	clusterID, err := c.ResolveClusterID(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	return c.describeStep(ctx, clusterID, stepID)
}

// ParseState normalizes a step state name ("running" -> RUNNING). An empty
// name returns an empty state, meaning "any".
func ParseState(state string) (emrtypes.StepState, error) {
	if state == "" {
		return "", nil
	}
	st := emrtypes.StepState(strings.ToUpper(strings.TrimSpace(state)))
	if !slices.Contains(st.Values(), st) {
		return "", fmt.Errorf("%w %q (want one of %v)", ErrInvalidState, state, st.Values())
	}
	return st, nil
}

// ListJobs lists the steps on a cluster, newest first, optionally filtered
// to one state.
func (c *Client) ListJobs(ctx context.Context, clusterName, state string) ([]*Job, error) {
	st, err := ParseState(state)
	if err != nil {
		return nil, err
	}
	clusterID, err := c.ResolveClusterID(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	input := &emr.ListStepsInput{ClusterId: aws.String(clusterID)}
	if st != "" {
		input.StepStates = []emrtypes.StepState{st}
	}

	var jobs []*Job
	paginator := emr.NewListStepsPaginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListSteps: %w", err)
		}
		for _, s := range page.Steps {
			jobs = append(jobs, jobFromSummary(clusterID, s))
		}
	}
	return jobs, nil
}

// CancelJob asks EMR to cancel a pending or running step.
func (c *Client) CancelJob(ctx context.Context, clusterName, stepID string) error {
	clusterID, err := c.ResolveClusterID(ctx, clusterName)
	if err != nil {
		return err
	}
	out, err := c.api.CancelSteps(ctx, &emr.CancelStepsInput{
		ClusterId:              aws.String(clusterID),
		StepIds:                []string{stepID},
		StepCancellationOption: emrtypes.StepCancellationOptionSendInterrupt,
	})
	if err != nil {
		return fmt.Errorf("CancelSteps: %w", err)
	}
	for _, info := range out.CancelStepsInfoList {
		if info.Status == emrtypes.CancelStepsRequestStatusFailed {
			return fmt.Errorf("cancel job %s: %s", stepID, aws.ToString(info.Reason))
		}
	}
	log.Info().Str("clusterId", clusterID).Str("stepId", stepID).Msg("Job canceled")
	return nil
}
