package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/warehouse"
)

var (
	whDatasetFlag     string
	whTableFlag       string
	whSchemaFileFlag  string
	whURIFlag         string
	whAutodetectFlag  bool
	whCompressionFlag string
)

var warehouseCmd = &cobra.Command{
	Use:     "warehouse",
	Aliases: []string{"wh"},
	Short:   "Manage Redshift schemas and tables and load data",
	Long: `Warehouse commands run through the Redshift Data API against the endpoint
configured by REDSHIFT_WORKGROUP or REDSHIFT_CLUSTER_ID and REDSHIFT_DATABASE.

A dataset is a Redshift schema. Table schemas are YAML lists of fields:

  - name: id
    type: STRING
    mode: REQUIRED
  - name: payload
    type: JSON`,
}

var whCreateDatasetCmd = &cobra.Command{
	Use:   "create-dataset",
	Short: "Create the dataset (schema) if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		dataset := orDefault(whDatasetFlag, appConfig.DatasetID)
		if err := wh.CreateDataset(cmd.Context(), dataset); err != nil {
			return err
		}
		done(cmd, "Dataset %s ready", dataset)
		return nil
	},
}

var whCreateTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create a table from a schema file if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		schema, err := schemaFromFlag(true)
		if err != nil {
			return err
		}
		dataset, table, err := tableRef()
		if err != nil {
			return err
		}
		if err := wh.CreateTable(cmd.Context(), dataset, table, schema); err != nil {
			return err
		}
		done(cmd, "Table %s.%s ready", dataset, table)
		return nil
	},
}

var whGetTableCmd = &cobra.Command{
	Use:   "get-table",
	Short: "Show a table's columns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		dataset, table, err := tableRef()
		if err != nil {
			return err
		}
		t, err := wh.GetTable(cmd.Context(), dataset, table)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			rows = append(rows, []string{c.Name, c.Type, strconv.FormatBool(c.Nullable)})
		}
		return render(cmd, t, []string{"column", "type", "nullable"}, rows)
	},
}

var whUpdateSchemaCmd = &cobra.Command{
	Use:   "update-schema",
	Short: "Add the schema file's missing columns to a table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		schema, err := schemaFromFlag(true)
		if err != nil {
			return err
		}
		dataset, table, err := tableRef()
		if err != nil {
			return err
		}
		added, err := wh.UpdateSchema(cmd.Context(), dataset, table, schema)
		if err != nil {
			return err
		}
		if len(added) == 0 {
			done(cmd, "Table %s.%s already has every column", dataset, table)
			return nil
		}
		done(cmd, "Added %s to %s.%s", strings.Join(added, ", "), dataset, table)
		return nil
	},
}

var whDeleteTableCmd = &cobra.Command{
	Use:   "delete-table",
	Short: "Drop a table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		dataset, table, err := tableRef()
		if err != nil {
			return err
		}
		if !confirm(cmd, fmt.Sprintf("Drop table %s.%s?", dataset, table)) {
			return errAborted
		}
		if err := wh.DeleteTable(cmd.Context(), dataset, table); err != nil {
			return err
		}
		done(cmd, "Table %s.%s dropped", dataset, table)
		return nil
	},
}

var whLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a JSON object from S3 into a table and wait for it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		schema, err := schemaFromFlag(false)
		if err != nil {
			return err
		}
		dataset, table, err := tableRef()
		if err != nil {
			return err
		}
		res, err := wh.LoadData(cmd.Context(), warehouse.LoadRequest{
			Dataset:     dataset,
			Table:       table,
			SourceURI:   whURIFlag,
			Autodetect:  whAutodetectFlag || appConfig.LoadAutodetect,
			Schema:      schema,
			Compression: whCompressionFlag,
		})
		if err != nil {
			return err
		}
		if jsonFlag {
			return render(cmd, res, nil, nil)
		}
		done(cmd, "Loaded %d rows into %s.%s in %s (statement %s)", res.Rows, dataset, table, cli.FormatDurationShort(res.Duration), res.StatementID)
		return nil
	},
}

var whQueryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a SQL statement and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := warehouseClient()
		if err != nil {
			return err
		}
		res, err := wh.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(res.Rows))
		for _, r := range res.Rows {
			cells := make([]string, len(r))
			for i, v := range r {
				if v != nil {
					cells[i] = fmt.Sprint(v)
				}
			}
			rows = append(rows, cells)
		}
		if len(res.Columns) == 0 && !jsonFlag {
			done(cmd, "Statement %s finished", res.StatementID)
			return nil
		}
		return render(cmd, res, res.Columns, rows)
	},
}

func init() {
	pf := warehouseCmd.PersistentFlags()
	pf.StringVar(&whDatasetFlag, "dataset", "", "Dataset (schema) name (default: DATASET_ID)")
	pf.StringVar(&whTableFlag, "table", "", "Table name (default: TABLE_ID)")
	pf.StringVar(&whSchemaFileFlag, "schema-file", "", "YAML schema file (default: LOAD_SCHEMA_FILE)")

	lf := whLoadCmd.Flags()
	lf.StringVar(&whURIFlag, "uri", "", "s3:// URI of the object to load")
	lf.BoolVar(&whAutodetectFlag, "autodetect", false, "Match JSON keys to columns ignoring case")
	lf.StringVar(&whCompressionFlag, "compression", "", "Object compression: gzip or zstd")
	whLoadCmd.MarkFlagRequired("uri")

	warehouseCmd.AddCommand(whCreateDatasetCmd, whCreateTableCmd, whGetTableCmd, whUpdateSchemaCmd, whDeleteTableCmd, whLoadCmd, whQueryCmd)
}

func warehouseClient() (*warehouse.Client, error) {
	return warehouse.NewClient(awsClients.Redshift, appConfig.WarehouseConfig())
}

func tableRef() (dataset, table string, err error) {
	dataset = orDefault(whDatasetFlag, appConfig.DatasetID)
	table = orDefault(whTableFlag, appConfig.TableID)
	if dataset == "" || table == "" {
		return "", "", errors.New("--dataset and --table are required")
	}
	return dataset, table, nil
}

// schemaFromFlag loads the schema file, if one is set.
func schemaFromFlag(required bool) (warehouse.Schema, error) {
	path := orDefault(whSchemaFileFlag, appConfig.SchemaFile)
	if path == "" {
		if required {
			return nil, errors.New("--schema-file is required")
		}
		return nil, nil
	}
	path, err := cli.ResolveLocalFile(path)
	if err != nil {
		return nil, err
	}
	return warehouse.LoadSchemaFile(path)
}
