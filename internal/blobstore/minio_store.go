package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
)

// MinIOStore is a Store backed by a MinIO (or any S3-compatible) bucket.
// Object writes through minio-go are atomic per object, which satisfies the
// Store contract directly.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOStore returns a MinIOStore over the given bucket, creating the
// bucket if it does not exist yet.
func NewMinIOStore(ctx context.Context, client *minio.Client, bucket string) (*MinIOStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("blobstore: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blobstore: create bucket %s: %w", bucket, err)
		}
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// GetObject is lazy; a missing key surfaces on first read.
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
