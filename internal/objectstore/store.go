// Package objectstore wraps the S3-compatible object store holding dataset
// snapshots and analysis outputs.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Entry is one stored object under a listed prefix.
type Entry struct {
	Key  string
	Size int64
}

// Store is the object store interface used by the engine.
type Store interface {
	// Upload streams an object into a bucket. Pass size -1 when unknown.
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// ListPrefix returns all objects under prefix, recursively.
	ListPrefix(ctx context.Context, bucket, prefix string) ([]Entry, error)
	// GetObject opens an object for reading. The caller must close it.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Ping(ctx context.Context) error
}

// MinioStore implements Store using the MinIO client, which speaks to any
// S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to the given S3-compatible endpoint.
func NewMinioStore(endpoint, accessKey, secretKey string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *MinioStore) ListPrefix(ctx context.Context, bucket, prefix string) ([]Entry, error) {
	var entries []Entry
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, obj.Err)
		}
		entries = append(entries, Entry{Key: obj.Key, Size: obj.Size})
	}
	return entries, nil
}

func (s *MinioStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

// Compile-time check that MinioStore implements Store.
var _ Store = (*MinioStore)(nil)
