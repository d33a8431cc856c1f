// Package s3 is the primary object store: any S3-compatible service reached through
// aws-sdk-go-v2, fronted by a CDN.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/evermore/evermore/internal/storage"
)

// Config holds connection settings for the S3-compatible endpoint.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// MaxAttempts is the SDK's own retry budget per request. Default: 3
	MaxAttempts int

	// Timeout bounds each HTTP request. Default: 30 seconds
	Timeout time.Duration
}

// Client implements storage.Store on top of the S3 API.
type Client struct {
	client *s3.Client
}

var _ storage.Store = (*Client)(nil)

// New creates a client for the endpoint in cfg. It does not contact the endpoint.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithRetryMaxAttempts(cfg.MaxAttempts),
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)),
		// S3-compatible stores do not all accept the newer default checksums
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &Client{client: client}, nil
}

// Put uploads in.Body under in.Key.
func (c *Client) Put(ctx context.Context, in storage.PutInput) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
		ContentType:   aws.String(in.ContentType),
	}
	if in.CacheControl != "" {
		input.CacheControl = aws.String(in.CacheControl)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", in.Key, err)
	}
	return nil
}

// HeadBucket checks that bucket exists and is reachable with the configured credentials.
func (c *Client) HeadBucket(ctx context.Context, bucket string) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return nil
}
