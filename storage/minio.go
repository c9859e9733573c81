// Package storage is the object-storage collaborator: it fetches source files
// and persists pipeline outputs in a MinIO/S3 bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"audioseg/config"
	"audioseg/logger"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrTooLarge means the object exceeds the caller's size limit.
var ErrTooLarge = errors.New("object exceeds size limit")

// Client wraps a MinIO client bound to one bucket.
type Client struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and makes sure the bucket exists. It returns nil, nil
// when no endpoint is configured.
func NewMinio(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}

	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	c := &Client{client: mc, bucket: cfg.MinioBucket}
	if err := c.ensureBucket(ctx, cfg.MinioRegion); err != nil {
		return nil, err
	}
	logger.Info("Object storage ready",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context, region string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	logger.Info("Created bucket", logger.String("bucket", c.bucket))
	return nil
}

// Download reads the object named by ref, refusing objects over limit bytes.
// ref is either a bare key or "bucket/key" for this client's bucket.
func (c *Client) Download(ctx context.Context, ref string, limit int64) ([]byte, error) {
	key := c.keyFromRef(ref)
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if err := checkSize(key, info.Size, limit); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(obj, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	if err := checkSize(key, int64(len(data)), limit); err != nil {
		return nil, err
	}
	return data, nil
}

func checkSize(key string, size, limit int64) error {
	if size > limit {
		return fmt.Errorf("object %s is %d bytes, limit is %d: %w", key, size, limit, ErrTooLarge)
	}
	return nil
}

// Upload stores data under key with an unguessable prefix on the file name
// and returns the reference "bucket/key".
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	dir, name := path.Split(key)
	objectKey := path.Join(dir, uuid.NewString()+"_"+name)

	_, err := c.client.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectKey, err)
	}
	logger.Debug("Uploaded object", logger.String("key", objectKey), logger.Int("bytes", len(data)))
	return c.bucket + "/" + objectKey, nil
}

func (c *Client) keyFromRef(ref string) string {
	ref = strings.TrimPrefix(ref, "s3://")
	return strings.TrimPrefix(ref, c.bucket+"/")
}
