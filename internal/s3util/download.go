// Package s3util provides the S3 operations the pipeline needs: reading a
// triggering object into memory (with transparent decompression), and the
// download, upload and tagging helpers used by pipelinectl.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// GetObjectAPI is the subset of the S3 client used for reads.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Compression identifies how an object's bytes are encoded at rest.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Object is a downloaded object. Content is always the decoded payload.
type Object struct {
	Bucket      string
	Key         string
	ContentType string
	Compression Compression
	// StoredBytes is the size as stored in S3, before decompression.
	StoredBytes int64
	Content     []byte
}

// CompressionFor picks the compression from the object's Content-Encoding,
// falling back to its extension.
func CompressionFor(key, contentEncoding string) Compression {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	}
	return CompressionNone
}

// ReadObject downloads an object into memory and decompresses gzip and zstd
// payloads.
func ReadObject(ctx context.Context, client GetObjectAPI, bucket, key string) (*Object, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Reading object from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}

	obj := &Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: aws.ToString(result.ContentType),
		Compression: CompressionFor(key, aws.ToString(result.ContentEncoding)),
		StoredBytes: int64(len(raw)),
	}
	obj.Content, err = Decompress(obj.Compression, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress s3://%s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("compression", string(obj.Compression)).
		Int64("storedBytes", obj.StoredBytes).
		Int("contentBytes", len(obj.Content)).
		Msg("Object read from S3")
	return obj, nil
}

// Decompress decodes raw according to c.
func Decompress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return raw, nil
	}
}

// DownloadToFile downloads an S3 object, as stored, to a local path.
func DownloadToFile(ctx context.Context, client GetObjectAPI, bucket, key, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return 0, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, result.Body)
	if err != nil {
		return n, fmt.Errorf("download: %w", err)
	}
	return n, nil
}
