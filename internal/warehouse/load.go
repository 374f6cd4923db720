package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/rs/zerolog/log"
)

// LoadRequest describes one load of JSON data from S3 into a table.
type LoadRequest struct {
	Dataset   string
	Table     string
	SourceURI string
	// Autodetect matches JSON keys to the table's columns by name,
	// ignoring case.
	Autodetect bool
	// Schema, when set, creates the table if it does not exist and limits
	// the load to these columns.
	Schema Schema
	// Compression is "gzip", "zstd" or empty.
	Compression string
}

// Validate checks the request is complete.
func (r LoadRequest) Validate() error {
	switch {
	case r.Dataset == "":
		return errors.New("dataset is required")
	case r.Table == "":
		return errors.New("table is required")
	case !strings.HasPrefix(r.SourceURI, "s3://"):
		return fmt.Errorf("source URI must be an s3:// URI, got %q", r.SourceURI)
	}
	return nil
}

// LoadResult describes a finished load.
type LoadResult struct {
	StatementID string
	// Rows is the number of rows the statement reported, or -1.
	Rows     int64
	Duration time.Duration
}

// LoadData copies the object at SourceURI into the table and waits for the
// load to finish. The result is non-nil whenever the statement was accepted,
// so the statement ID is available even when the load fails.
func (c *Client) LoadData(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	copySQL := CopySQL(req.Dataset, req.Table, req.SourceURI, req.Schema.Names(), req.Autodetect, req.Compression, c.cfg.CopyRoleARN)
	name := "pipeline-load-" + req.Table
	start := time.Now()

	var (
		out *redshiftdata.DescribeStatementOutput
		err error
	)
	if len(req.Schema) > 0 {
		create, cerr := CreateTableSQL(req.Dataset, req.Table, req.Schema)
		if cerr != nil {
			return nil, cerr
		}
		out, err = c.execBatch(ctx, name, []string{create, copySQL})
	} else {
		out, err = c.exec(ctx, name, copySQL)
	}

	var res *LoadResult
	if out != nil {
		res = &LoadResult{StatementID: aws.ToString(out.Id), Rows: out.ResultRows, Duration: time.Since(start)}
	}
	if err != nil {
		return res, err
	}

	log.Info().
		Str("table", req.Dataset+"."+req.Table).
		Str("source", req.SourceURI).
		Str("statementId", res.StatementID).
		Int64("rows", res.Rows).
		Dur("elapsed", res.Duration).
		Msg("Data loaded")
	return res, nil
}
