package s3util

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UploadFile uploads a local file to bucket/key. Content type and encoding
// are derived from the file name, so "data.json.gz" is stored as
// application/json with Content-Encoding gzip. Uploading into a watched bucket
// is how operators trigger the pipeline by hand.
func UploadFile(ctx context.Context, client PutObjectAPI, bucket, key, localPath string, tagging *string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	contentType, contentEncoding := contentHeaders(localPath)
	input := &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Tagging:     tagging,
	}
	if contentEncoding != "" {
		input.ContentEncoding = &contentEncoding
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Str("contentType", contentType).Msg("Uploading to S3")
	if _, err := client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("S3 PutObject s3://%s/%s: %w", bucket, key, err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Msg("Object uploaded to S3")
	return nil
}

// contentHeaders returns the content type and encoding for a file name.
func contentHeaders(name string) (contentType, contentEncoding string) {
	switch CompressionFor(name, "") {
	case CompressionGzip:
		contentEncoding = "gzip"
		name = name[:len(name)-len(filepath.Ext(name))]
	case CompressionZstd:
		contentEncoding = "zstd"
		name = name[:len(name)-len(filepath.Ext(name))]
	}
	switch filepath.Ext(name) {
	case ".json", ".ndjson", ".jsonl":
		contentType = "application/json"
	default:
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, contentEncoding
}
