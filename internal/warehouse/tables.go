package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/rs/zerolog/log"
)

// ErrTableNotFound is returned by GetTable when the table has no columns in
// the catalog.
var ErrTableNotFound = errors.New("table not found")

// Column is a column as reported by the catalog.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Table describes an existing table.
type Table struct {
	Dataset string
	Name    string
	Columns []Column
}

// CreateDataset creates the schema if it does not exist.
func (c *Client) CreateDataset(ctx context.Context, dataset string) error {
	if dataset == "" {
		return errors.New("dataset is required")
	}
	if _, err := c.exec(ctx, "pipeline-create-dataset", CreateSchemaSQL(dataset)); err != nil {
		return err
	}
	log.Info().Str("dataset", dataset).Msgf("Created dataset %s", dataset)
	return nil
}

// CreateTable creates the table if it does not exist.
func (c *Client) CreateTable(ctx context.Context, dataset, table string, schema Schema) error {
	sql, err := CreateTableSQL(dataset, table, schema)
	if err != nil {
		return err
	}
	if _, err := c.exec(ctx, "pipeline-create-table", sql); err != nil {
		return err
	}
	log.Info().Str("table", dataset+"."+table).Int("columns", len(schema)).Msgf("Created table %s.%s", dataset, table)
	return nil
}

// GetTable reads the table's columns from the catalog.
func (c *Client) GetTable(ctx context.Context, dataset, table string) (*Table, error) {
	wg, cl, user, secret := c.target()
	paginator := redshiftdata.NewDescribeTablePaginator(c.api, &redshiftdata.DescribeTableInput{
		Database:          aws.String(c.cfg.Database),
		Schema:            aws.String(dataset),
		Table:             aws.String(table),
		WorkgroupName:     wg,
		ClusterIdentifier: cl,
		DbUser:            user,
		SecretArn:         secret,
	})

	t := &Table{Dataset: dataset, Name: table}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeTable: %w", err)
		}
		for _, col := range page.ColumnList {
			t.Columns = append(t.Columns, Column{
				Name:     aws.ToString(col.Name),
				Type:     aws.ToString(col.TypeName),
				Nullable: col.Nullable != 0,
			})
		}
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, dataset, table)
	}
	return t, nil
}

// UpdateSchema appends the fields the table does not already have, one ALTER
// TABLE per column. It returns the names of the added columns.
func (c *Client) UpdateSchema(ctx context.Context, dataset, table string, fields Schema) ([]string, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	current, err := c.GetTable(ctx, dataset, table)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(current.Columns))
	for _, col := range current.Columns {
		existing[strings.ToLower(col.Name)] = true
	}

	var added []string
	for _, f := range fields {
		if existing[strings.ToLower(f.Name)] {
			continue
		}
		sql, err := AddColumnSQL(dataset, table, f)
		if err != nil {
			return added, err
		}
		// Redshift does not allow ALTER TABLE ADD COLUMN inside a transaction
		// block, so each column is its own statement.
		if _, err := c.exec(ctx, "pipeline-add-column", sql); err != nil {
			return added, err
		}
		added = append(added, f.Name)
	}
	log.Info().Str("table", dataset+"."+table).Strs("added", added).Msgf("Updated schema for table %s.%s", dataset, table)
	return added, nil
}

// DeleteTable drops the table if it exists.
func (c *Client) DeleteTable(ctx context.Context, dataset, table string) error {
	if _, err := c.exec(ctx, "pipeline-drop-table", DropTableSQL(dataset, table)); err != nil {
		return err
	}
	log.Info().Str("table", dataset+"."+table).Msgf("Deleted table %s.%s", dataset, table)
	return nil
}
