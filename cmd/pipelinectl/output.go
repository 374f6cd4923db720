package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
)

var jsonFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print results as JSON instead of a table")
}

// render prints v as indented JSON with --json, otherwise the table.
func render(cmd *cobra.Command, v any, headers []string, rows [][]string) error {
	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return cli.PrintTable(cmd.OutOrStdout(), headers, rows)
}

// done prints a one-line confirmation unless --json is set.
func done(cmd *cobra.Command, format string, args ...any) {
	if jsonFlag {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}
