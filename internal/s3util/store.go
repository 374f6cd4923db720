package s3util

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store binds the package helpers to one S3 client so the pipeline can
// depend on small method sets instead of the whole client.
type Store struct {
	Client *s3.Client
}

// NewStore wraps an S3 client.
func NewStore(client *s3.Client) *Store {
	return &Store{Client: client}
}

// ReadObject reads and decodes an object.
func (s *Store) ReadObject(ctx context.Context, bucket, key string) (*Object, error) {
	return ReadObject(ctx, s.Client, bucket, key)
}

// TagObject replaces an object's tags.
func (s *Store) TagObject(ctx context.Context, bucket, key string, tags map[string]string) error {
	return TagObject(ctx, s.Client, bucket, key, tags)
}
