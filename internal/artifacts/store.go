package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is durable blob storage for submission artifacts. Artifacts are
// addressed by an opaque path; writes overwrite, so regeneration is idempotent.
type Store interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// MinioStore implements Store on MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts.NewMinioStore: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("artifacts.NewMinioStore: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("artifacts.NewMinioStore: create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Write(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("artifacts.MinioStore.Write: %w", err)
	}
	return nil
}

func (s *MinioStore) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("artifacts.MinioStore.Read: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("artifacts.MinioStore.Read: %w", err)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("artifacts.MinioStore.Exists: %w", err)
}

// MemStore keeps artifacts in memory, for tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Write(_ context.Context, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("artifacts.MemStore.Read: no blob at %s", path)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[path]
	return ok, nil
}
