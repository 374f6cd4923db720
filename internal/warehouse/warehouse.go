// Package warehouse runs loads and table management against Amazon Redshift
// through the Redshift Data API.
//
// Every call submits a statement and polls DescribeStatement with
// exponential backoff until it finishes, so methods return only after the
// warehouse has applied the change. A "dataset" is a Redshift schema.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	rstypes "github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Polling defaults for statement completion.
const (
	DefaultPollInitial = 250 * time.Millisecond
	DefaultPollMax     = 10 * time.Second
	DefaultMaxWait     = 30 * time.Minute
)

var errStatementPending = errors.New("statement still running")

// StatementError reports a statement that ended FAILED or ABORTED.
type StatementError struct {
	ID     string
	Status string
	Msg    string
}

func (e *StatementError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("statement %s %s", e.ID, e.Status)
	}
	return fmt.Sprintf("statement %s %s: %s", e.ID, e.Status, e.Msg)
}

// API is the subset of the Redshift Data API client used by Client.
type API interface {
	ExecuteStatement(ctx context.Context, params *redshiftdata.ExecuteStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, params *redshiftdata.BatchExecuteStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.BatchExecuteStatementOutput, error)
	DescribeStatement(ctx context.Context, params *redshiftdata.DescribeStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error)
	GetStatementResult(ctx context.Context, params *redshiftdata.GetStatementResultInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.GetStatementResultOutput, error)
	DescribeTable(ctx context.Context, params *redshiftdata.DescribeTableInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.DescribeTableOutput, error)
}

// Config addresses the warehouse. Exactly one of WorkgroupName (Serverless)
// or ClusterID (provisioned) must be set.
type Config struct {
	WorkgroupName string
	ClusterID     string
	Database      string
	// DBUser is used for temporary credentials on provisioned clusters;
	// SecretARN takes precedence when both are set.
	DBUser    string
	SecretARN string
	// CopyRoleARN is the IAM role COPY assumes to read from S3. Empty means
	// the cluster's default IAM role.
	CopyRoleARN string

	PollInitial time.Duration
	PollMax     time.Duration
	MaxWait     time.Duration
}

// Validate checks the endpoint settings.
func (c Config) Validate() error {
	switch {
	case c.WorkgroupName == "" && c.ClusterID == "":
		return errors.New("one of workgroup or cluster ID is required")
	case c.WorkgroupName != "" && c.ClusterID != "":
		return errors.New("workgroup and cluster ID are mutually exclusive")
	case c.Database == "":
		return errors.New("database is required")
	}
	return nil
}

// Client runs statements against one Redshift database.
type Client struct {
	api API
	cfg Config
}

// NewClient creates a Client. Zero polling settings take their defaults.
func NewClient(api API, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = DefaultPollInitial
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = DefaultPollMax
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Client{api: api, cfg: cfg}, nil
}

// Endpoint describes where statements run, for logs.
func (c Config) Endpoint() string {
	if c.WorkgroupName != "" {
		return "workgroup/" + c.WorkgroupName + "/" + c.Database
	}
	return "cluster/" + c.ClusterID + "/" + c.Database
}

// Endpoint describes where statements run, for logs.
func (c *Client) Endpoint() string { return c.cfg.Endpoint() }

func (c *Client) target() (workgroup, cluster, dbUser, secret *string) {
	if c.cfg.WorkgroupName != "" {
		workgroup = aws.String(c.cfg.WorkgroupName)
	} else {
		cluster = aws.String(c.cfg.ClusterID)
	}
	if c.cfg.SecretARN != "" {
		secret = aws.String(c.cfg.SecretARN)
	} else if c.cfg.DBUser != "" {
		dbUser = aws.String(c.cfg.DBUser)
	}
	return
}

// exec submits one statement and waits for it. The description is returned
// alongside a StatementError so callers can log the statement ID.
func (c *Client) exec(ctx context.Context, name, sql string) (*redshiftdata.DescribeStatementOutput, error) {
	wg, cl, user, secret := c.target()
	out, err := c.api.ExecuteStatement(ctx, &redshiftdata.ExecuteStatementInput{
		Sql:               aws.String(sql),
		Database:          aws.String(c.cfg.Database),
		WorkgroupName:     wg,
		ClusterIdentifier: cl,
		DbUser:            user,
		SecretArn:         secret,
		StatementName:     aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("ExecuteStatement: %w", err)
	}
	log.Debug().Str("statementId", aws.ToString(out.Id)).Str("statement", name).Msg("Statement submitted")
	return c.wait(ctx, aws.ToString(out.Id))
}

// execBatch runs the statements as one transaction.
func (c *Client) execBatch(ctx context.Context, name string, sqls []string) (*redshiftdata.DescribeStatementOutput, error) {
	wg, cl, user, secret := c.target()
	out, err := c.api.BatchExecuteStatement(ctx, &redshiftdata.BatchExecuteStatementInput{
		Sqls:              sqls,
		Database:          aws.String(c.cfg.Database),
		WorkgroupName:     wg,
		ClusterIdentifier: cl,
		DbUser:            user,
		SecretArn:         secret,
		StatementName:     aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("BatchExecuteStatement: %w", err)
	}
	return c.wait(ctx, aws.ToString(out.Id))
}

// wait polls DescribeStatement until the statement leaves the submitted,
// picked and started states.
func (c *Client) wait(ctx context.Context, id string) (*redshiftdata.DescribeStatementOutput, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInitial
	b.MaxInterval = c.cfg.PollMax
	b.MaxElapsedTime = c.cfg.MaxWait

	var final *redshiftdata.DescribeStatementOutput
	op := func() error {
		out, err := c.api.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{Id: aws.String(id)})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("DescribeStatement %s: %w", id, err))
		}
		final = out
		switch out.Status {
		case rstypes.StatusStringFinished:
			return nil
		case rstypes.StatusStringFailed, rstypes.StatusStringAborted:
			return backoff.Permanent(&StatementError{ID: id, Status: string(out.Status), Msg: aws.ToString(out.Error)})
		default:
			return errStatementPending
		}
	}
	notify := func(err error, delay time.Duration) {
		log.Debug().Str("statementId", id).Dur("delay", delay).Msg("Waiting for statement")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, errStatementPending) {
			return final, fmt.Errorf("statement %s did not finish within %s", id, c.cfg.MaxWait)
		}
		return final, err
	}
	return final, nil
}

// Result is the output of Query.
type Result struct {
	StatementID string
	Columns     []string
	Rows        [][]any
}

// Query runs a statement and returns its result set, if any.
func (c *Client) Query(ctx context.Context, sql string) (*Result, error) {
	desc, err := c.exec(ctx, "pipeline-query", sql)
	if err != nil {
		return nil, err
	}
	res := &Result{StatementID: aws.ToString(desc.Id)}
	if !aws.ToBool(desc.HasResultSet) {
		return res, nil
	}

	paginator := redshiftdata.NewGetStatementResultPaginator(c.api, &redshiftdata.GetStatementResultInput{Id: desc.Id})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("GetStatementResult: %w", err)
		}
		if res.Columns == nil {
			for _, col := range page.ColumnMetadata {
				res.Columns = append(res.Columns, aws.ToString(col.Name))
			}
		}
		for _, record := range page.Records {
			row := make([]any, len(record))
			for i, f := range record {
				row[i] = fieldValue(f)
			}
			res.Rows = append(res.Rows, row)
		}
	}
	return res, nil
}

func fieldValue(f rstypes.Field) any {
	switch v := f.(type) {
	case *rstypes.FieldMemberStringValue:
		return v.Value
	case *rstypes.FieldMemberLongValue:
		return v.Value
	case *rstypes.FieldMemberDoubleValue:
		return v.Value
	case *rstypes.FieldMemberBooleanValue:
		return v.Value
	case *rstypes.FieldMemberBlobValue:
		return v.Value
	default:
		return nil
	}
}
