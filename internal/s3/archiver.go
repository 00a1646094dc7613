// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package s3 mirrors stage files of a cleanup run to an S3 bucket.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/netSkope/destlist-cleanup/internal/config"
	"go.uber.org/zap"
)

const (
	// Max retries for S3 operations
	maxS3Retries = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
	partSize          = 10 * 1024 * 1024
)

// UploadAPI is the subset of manager.Uploader used by the archiver.
type UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archiver uploads stage files under <prefix>/<run id>/.
type Archiver struct {
	uploader UploadAPI
	bucket   string
	prefix   string
	runID    string
	logger   *zap.Logger

	maxRetries int
	retryDelay time.Duration
	// onRetry is called with the wait before each retry.
	onRetry func(wait time.Duration)
}

// NewArchiver creates an archiver for cfg.S3Bucket using the AWS default
// credential chain. Static credentials from the environment take precedence,
// which is how vault-injected keys reach the SDK.
func NewArchiver(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger) (*Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return nil, fmt.Errorf("archive bucket not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, os.Getenv("AWS_SESSION_TOKEN"))))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	if endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", endpoint))
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 3
	})
	return New(uploader, cfg.S3Bucket, cfg.S3Prefix, runID, logger), nil
}

// New creates an archiver around an existing uploader.
func New(uploader UploadAPI, bucket, prefix, runID string, logger *zap.Logger) *Archiver {
	return &Archiver{
		uploader:   uploader,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		runID:      runID,
		logger:     logger,
		maxRetries: maxS3Retries,
		retryDelay: initialRetryDelay,
	}
}

// Key returns the object key a local file is archived under.
func (a *Archiver) Key(localPath string) string {
	return path.Join(a.prefix, a.runID, filepath.Base(localPath))
}

// Archive uploads localPath with exponential backoff and returns the object
// key. A file that cannot be opened is not retried.
func (a *Archiver) Archive(ctx context.Context, localPath string) (string, error) {
	key := a.Key(localPath)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return a.upload(ctx, localPath, key)
	}, a.backOff(ctx), func(err error, wait time.Duration) {
		a.logger.Warn("Upload failed, retrying",
			zap.String("file", localPath),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", a.maxRetries),
			zap.Duration("wait", wait),
			zap.Error(err))
		if a.onRetry != nil {
			a.onRetry(wait)
		}
	})
	if err != nil {
		return "", fmt.Errorf("upload of %s failed after %d attempts: %w", filepath.Base(localPath), attempt, err)
	}
	return key, nil
}

func (a *Archiver) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.retryDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	retries := a.maxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

func (a *Archiver) upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to open file: %w", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	a.logger.Info("Uploading file to S3",
		zap.String("file", localPath),
		zap.String("bucket", a.bucket),
		zap.String("s3_key", key),
		zap.Int64("size", info.Size()))

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	a.logger.Info("File uploaded successfully", zap.String("s3_key", key))
	return nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
