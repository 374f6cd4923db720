package s3util

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Tag keys written on objects the pipeline has loaded.
const (
	TagProject = "Project"
	TagRunID   = "PipelineRunId"
	TagStatus  = "PipelineStatus"
)

// PutObjectTaggingAPI is the subset of the S3 client used for tagging.
type PutObjectTaggingAPI interface {
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// RunTags returns the tags recorded on an object once a run has loaded it.
func RunTags(projectID, runID, status string) map[string]string {
	tags := map[string]string{TagRunID: runID, TagStatus: status}
	if projectID != "" {
		tags[TagProject] = projectID
	}
	return tags
}

// Tagging URL-encodes tags for the Tagging field of PutObjectInput.
func Tagging(tags map[string]string) *string {
	if len(tags) == 0 {
		return nil
	}
	v := url.Values{}
	for k, val := range tags {
		v.Set(k, val)
	}
	s := v.Encode()
	return &s
}

// TagObject replaces the tag set of an existing object.
func TagObject(ctx context.Context, client PutObjectTaggingAPI, bucket, key string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tagSet := make([]s3types.Tag, 0, len(keys))
	for _, k := range keys {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  &bucket,
		Key:     &key,
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("PutObjectTagging s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
