package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/messmate/messmate/pkg/storage"
)

var proofTracer = otel.Tracer("messmate/storage/proofs")

// ProofStore keeps payment proof blobs (screenshots, receipts) in an
// S3-compatible object store. The billing core only ever sees the opaque
// object key.
type ProofStore struct {
	client *s3.Client
	bucket string
	config storage.Config
}

// NewProofStore creates a new S3-backed proof store
func NewProofStore(cfg storage.Config) (*ProofStore, error) {
	ctx := context.Background()

	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
		)
	}

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

	if err := createBucketIfNotExists(ctx, client, cfg.S3Bucket, cfg.S3Region); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &ProofStore{
		client: client,
		bucket: cfg.S3Bucket,
		config: cfg,
	}, nil
}

// PutProof uploads a payment proof and returns the object key. Proofs are
// stored content-addressed under the order id so a re-submitted identical
// proof lands on the same key.
func (p *ProofStore) PutProof(ctx context.Context, orderID string, content io.Reader, contentType string) (string, error) {
	ctx, span := proofTracer.Start(ctx, "ProofStore.PutProof",
		trace.WithAttributes(
			attribute.String("s3.bucket", p.bucket),
			attribute.String("order.id", orderID),
			attribute.String("content.type", contentType),
		),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read proof content")
		return "", fmt.Errorf("failed to read proof content: %w", err)
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])
	key := fmt.Sprintf("proofs/%s/%s", orderID, checksum)

	span.SetAttributes(
		attribute.Int("content.size", len(data)),
		attribute.String("s3.key", key),
	)

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload proof")
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}

	span.SetStatus(codes.Ok, "proof uploaded")
	return key, nil
}

// GetProof retrieves a proof blob by key (for reviewer display)
func (p *ProofStore) GetProof(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := proofTracer.Start(ctx, "ProofStore.GetProof",
		trace.WithAttributes(
			attribute.String("s3.bucket", p.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get proof")
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}

	span.SetStatus(codes.Ok, "proof retrieved")
	return result.Body, nil
}

// DeleteProof removes a proof blob
func (p *ProofStore) DeleteProof(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete proof: %w", err)
	}
	return nil
}

// HealthCheck verifies bucket connectivity
func (p *ProofStore) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		return fmt.Errorf("proof store health check failed: %w", err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket, region string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	// us-east-1 rejects an explicit location constraint
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, err = client.CreateBucket(ctx, input)
	if err != nil {
		var exists *types.BucketAlreadyExists
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &exists) || errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}
