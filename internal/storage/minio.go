package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"studio/internal/domain"
)

// BackendMinio tags handles allocated by MinioStore.
const BackendMinio = "minio"

// MinioOptions configures the object storage backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore keeps results in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("storage: minio endpoint is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: minio bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// Allocate uploads data under key.
func (s *MinioStore) Allocate(ctx context.Context, key string, data []byte, mime string) (domain.ResultHandle, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.ResultHandle{}, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return domain.ResultHandle{}, fmt.Errorf("storage: put object: %w", err)
	}
	return domain.ResultHandle{
		Key:      cleanKey,
		MIMEType: mime,
		Size:     int64(len(data)),
		Backend:  BackendMinio,
	}, nil
}

// Open streams the object behind h.
func (s *MinioStore) Open(ctx context.Context, h domain.ResultHandle) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, h.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before streaming starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("storage: %s: %w", h.Key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: stat object: %w", err)
	}
	return obj, nil
}

// Release removes the object behind h.
func (s *MinioStore) Release(ctx context.Context, h domain.ResultHandle) error {
	if err := s.client.RemoveObject(ctx, s.bucket, h.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove object: %w", err)
	}
	return nil
}

var _ domain.HandleStore = (*MinioStore)(nil)
