package grant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

var tracer = otel.Tracer("github.com/platinummonkey/assetgate/pkg/grant")

// S3 caps presigned URLs at seven days
const maxPresignTTL = 7 * 24 * time.Hour

// S3Presigner mints presigned GET URLs
type S3Presigner struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	now     func() time.Time
}

// NewS3Presigner creates a presigner from the storage S3 settings
func NewS3Presigner(ctx context.Context, cfg storage.Config) (*S3Presigner, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return NewS3PresignerFromClient(client, cfg.S3Bucket), nil
}

// NewS3PresignerFromClient wraps an existing S3 client
func NewS3PresignerFromClient(client *s3.Client, bucket string) *S3Presigner {
	return &S3Presigner{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		now:     time.Now,
	}
}

// MintGrant implements Minter
func (p *S3Presigner) MintGrant(ctx context.Context, storageHandle string, ttl time.Duration) (*entitlement.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "S3.PresignGetObject",
		trace.WithAttributes(
			attribute.String("s3.operation", "PresignGetObject"),
			attribute.String("s3.bucket", p.bucket),
			attribute.Int64("grant.ttl_seconds", int64(ttl.Seconds())),
		),
	)
	defer span.End()

	if err := validate(storageHandle, ttl); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}

	issuedAt := p.now()
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(strings.TrimPrefix(storageHandle, "/")),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presign failed")
		return nil, fmt.Errorf("failed to presign object: %w", err)
	}

	span.SetStatus(codes.Ok, "grant minted")
	return &entitlement.AccessGrant{
		URL:       req.URL,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

// CheckBucket verifies the bucket is reachable, for readiness probes
func (p *S3Presigner) CheckBucket(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", p.bucket, err)
	}
	return nil
}
