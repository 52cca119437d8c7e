package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/flowkit/stage-runner/internal/runner/domain"
)

// Config holds S3-compatible object storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Client moves artifacts between buckets and the local filesystem.
type Client struct {
	api    *minio.Client
	logger *slog.Logger
}

// NewClient creates a new object storage client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	api, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	logger.Info("Object storage client initialized",
		slog.String("endpoint", config.Endpoint),
	)

	return &Client{api: api, logger: logger}, nil
}

// Fetch downloads bucket/key to destPath and returns the byte size. A
// missing source object wraps domain.ErrObjectNotFound so callers can
// distinguish it from transport failures.
func (c *Client) Fetch(ctx context.Context, bucket, key, destPath string) (int64, error) {
	if err := c.api.FGetObject(ctx, bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: s3://%s/%s", domain.ErrObjectNotFound, bucket, key)
		}
		return 0, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat fetched file: %w", err)
	}

	c.logger.Debug("Fetched object",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("size_bytes", info.Size()),
	)

	return info.Size(), nil
}

// Publish uploads srcPath to bucket/key and returns the byte size.
func (c *Client) Publish(ctx context.Context, srcPath, bucket, key string) (int64, error) {
	info, err := c.api.FPutObject(ctx, bucket, key, srcPath, minio.PutObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to publish s3://%s/%s: %w", bucket, key, err)
	}

	c.logger.Debug("Published object",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("size_bytes", info.Size),
	)

	return info.Size, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
