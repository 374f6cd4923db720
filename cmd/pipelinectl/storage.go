package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fpang/storage-event-pipeline/internal/cli"
	"github.com/fpang/storage-event-pipeline/internal/jsonutil"
	"github.com/fpang/storage-event-pipeline/internal/s3util"
)

var (
	storageOutFlag    string
	storageDecodeFlag bool
	storageTagFlag    map[string]string
)

var storageCmd = &cobra.Command{
	Use:     "storage",
	Aliases: []string{"s3"},
	Short:   "Read, write and check objects in S3",
}

var storageGetCmd = &cobra.Command{
	Use:   "get BUCKET KEY",
	Short: "Download an object",
	Long: `Get downloads an object as stored to --out (default: the key's base name).
With --decode the object is decompressed and written to stdout instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, key := args[0], args[1]
		if storageDecodeFlag {
			obj, err := s3util.ReadObject(cmd.Context(), awsClients.S3, bucket, key)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(obj.Content)
			return err
		}
		out := orDefault(storageOutFlag, filepath.Base(key))
		n, err := s3util.DownloadToFile(cmd.Context(), awsClients.S3, bucket, key, out)
		if err != nil {
			return err
		}
		done(cmd, "Downloaded s3://%s/%s to %s (%d bytes)", bucket, key, out, n)
		return nil
	},
}

var storagePutCmd = &cobra.Command{
	Use:   "put FILE BUCKET KEY",
	Short: "Upload a file",
	Long: `Put uploads a local file. Uploading into the watched bucket triggers the
pipeline; "events.json.gz" is stored as JSON with Content-Encoding gzip.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cli.ResolveLocalFile(args[0])
		if err != nil {
			return err
		}
		var tagging *string
		if len(storageTagFlag) > 0 {
			tagging = s3util.Tagging(storageTagFlag)
		}
		if err := s3util.UploadFile(cmd.Context(), awsClients.S3, args[1], args[2], path, tagging); err != nil {
			return err
		}
		done(cmd, "Uploaded %s to s3://%s/%s", args[0], args[1], args[2])
		return nil
	},
}

var storageCheckCmd = &cobra.Command{
	Use:   "check BUCKET KEY",
	Short: "Check that an object is JSON the pipeline will accept",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		obj, err := s3util.ReadObject(cmd.Context(), awsClients.S3, args[0], args[1])
		if err != nil {
			return err
		}
		docs, err := jsonutil.Documents(obj.Content)
		if err != nil {
			if errors.Is(err, jsonutil.ErrInvalidFormat) {
				done(cmd, "s3://%s/%s is not valid JSON", args[0], args[1])
			}
			return err
		}
		done(cmd, "s3://%s/%s: valid JSON, %d records, %d bytes decoded", args[0], args[1], docs, len(obj.Content))
		return nil
	},
}

func init() {
	storageGetCmd.Flags().StringVarP(&storageOutFlag, "out", "o", "", "Local file to write")
	storageGetCmd.Flags().BoolVar(&storageDecodeFlag, "decode", false, "Decompress and print the object to stdout")
	storagePutCmd.Flags().StringToStringVar(&storageTagFlag, "tag", nil, "Object tags (key=value, repeatable)")

	storageCmd.AddCommand(storageGetCmd, storagePutCmd, storageCheckCmd)
}
