// Package objectstore wraps the S3 operations the ingestion pipeline needs:
// streaming prefix listings, single-object fetches, and the copy-then-delete
// archive move.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound reports that a key vanished between listing and fetching.
// External writers race with the pipeline, so callers treat this as a skip.
var ErrObjectNotFound = errors.New("object not found")

// Client is an S3-backed object store scoped to one bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates a client for the given bucket. Credentials come from the
// default AWS chain (environment, shared config, instance role). If endpoint
// is non-empty, path-style addressing is enabled (for MinIO and similar).
func New(ctx context.Context, bucket, region, endpoint string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
	}, nil
}

// List streams every key under prefix to fn, one page at a time, without
// accumulating the listing. A non-nil error from fn stops the walk and is
// returned as is.
func (c *Client) List(ctx context.Context, prefix string, fn func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := fn(*obj.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fetch returns the full body of the object at key. A key that no longer
// exists fails with ErrObjectNotFound.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object %s: %w", key, err)
	}
	return data, nil
}

// Move relocates key under toPrefix, preserving the part of the key relative
// to fromPrefix, and returns the destination key. It is copy-then-delete and
// NOT atomic: when the copy lands but the delete fails, the object exists
// under both prefixes and the source is re-listed next run. The idempotent
// upsert key makes re-processing that stale duplicate a no-op, so callers
// only log the returned error.
func (c *Client) Move(ctx context.Context, key, fromPrefix, toPrefix string) (string, error) {
	relative := key
	if strings.HasPrefix(key, fromPrefix) {
		relative = key[len(fromPrefix):]
	} else if i := strings.LastIndex(key, "/"); i >= 0 {
		relative = key[i+1:]
	}
	destKey := toPrefix + relative

	_, err := c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(c.bucket + "/" + key),
		Key:        aws.String(destKey),
	})
	if err != nil {
		return "", fmt.Errorf("s3 copy %s to %s: %w", key, destKey, err)
	}

	_, err = c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3 delete %s after copy to %s: %w", key, destKey, err)
	}
	return destKey, nil
}
