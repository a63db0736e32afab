// Package blob stores attachment bytes in S3-compatible object storage.
// Metadata rows live in Postgres; the pathname is the join key.
package blob

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/carelink-health/carelink/internal/config"
)

type Store struct {
	client *s3.Client
	bucket string
}

// NewStore builds a Store from the ambient AWS credential chain. A non-empty
// S3_ENDPOINT (MinIO in development) switches to path-style addressing,
// which those servers require.
func NewStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts := s3.Options{
		Region:      awsCfg.Region,
		Credentials: awsCfg.Credentials,
		HTTPClient:  awsCfg.HTTPClient,
	}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		opts.BaseEndpoint = &endpoint
		opts.UsePathStyle = true
	}

	return &Store{client: s3.New(opts), bucket: cfg.S3Bucket}, nil
}

func (s *Store) Put(ctx context.Context, pathname, contentType string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &pathname,
		Body:        body,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", pathname, err)
	}
	return nil
}

// Get returns the object stream; the caller must close it.
func (s *Store) Get(ctx context.Context, pathname string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &pathname,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", pathname, err)
	}
	return out.Body, nil
}
