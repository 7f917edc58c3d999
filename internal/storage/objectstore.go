package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStoreConfig configures an S3-compatible bucket
type ObjectStoreConfig struct {
	Bucket    string
	Endpoint  string // empty for AWS; set for R2, MinIO, ...
	Region    string
	AccessKey string
	SecretKey string
	MaxBytes  int64
}

// ObjectStore reads job sources from and archives normalized pages to S3
type ObjectStore struct {
	client   *s3.Client
	bucket   string
	maxBytes int64
}

// NewObjectStore creates an S3 client. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ObjectStore{client: client, bucket: cfg.Bucket, maxBytes: cfg.MaxBytes}, nil
}

// ParseS3URI splits s3://bucket/key into its parts
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs a bucket and a key: %q", uri)
	}
	return bucket, key, nil
}

// Download reads an object named by an s3:// URI
func (o *ObjectStore) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if o.maxBytes > 0 {
		if out.ContentLength != nil && *out.ContentLength > o.maxBytes {
			return nil, fmt.Errorf("object %s exceeds maximum size: %d > %d bytes", uri, *out.ContentLength, o.maxBytes)
		}
		body = io.LimitReader(out.Body, o.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if o.maxBytes > 0 && int64(len(data)) > o.maxBytes {
		return nil, fmt.Errorf("object %s exceeds maximum size of %d bytes", uri, o.maxBytes)
	}
	return data, nil
}

// Upload writes data under key in the configured bucket and returns its s3:// URI
func (o *ObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", o.bucket, key), nil
}

// Ping checks that the bucket is reachable
func (o *ObjectStore) Ping(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	return err
}
