package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioConfig configures the S3-compatible blob store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioBlobStore is a BlobStore backed by any S3-compatible object store.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioBlobStore connects to the object store and ensures the bucket
// exists.
func NewMinioBlobStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioBlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("created blob bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioBlobStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put stores data under key, overwriting any previous object.
func (m *MinioBlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Get returns the object under key, or ErrBlobNotFound.
func (m *MinioBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// The client defers missing-key errors until the first read.
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}
