package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore persists files in an S3-compatible bucket using the same key
// layout as the local FileStore. It has no concept of a local path.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to the configured S3-compatible endpoint.
func NewObjectStore(opts Options) (*ObjectStore, error) {
	if opts.S3Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	client, err := minio.New(opts.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.S3AccessKey, opts.S3SecretKey, ""),
		Secure: opts.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}
	return &ObjectStore{client: client, bucket: opts.S3Bucket}, nil
}

func (s *ObjectStore) SaveOriginal(ctx context.Context, data []byte, filename, jobID string) (string, error) {
	return s.put(ctx, OriginalKey(jobID, filename), data)
}

func (s *ObjectStore) SaveProcessed(ctx context.Context, data []byte, filename, jobID string) (string, error) {
	return s.put(ctx, ProcessedKey(jobID, filename), data)
}

func (s *ObjectStore) put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeForKey(key),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return key, nil
}

func (s *ObjectStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

func (s *ObjectStore) DeleteFile(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat object: %w", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("storage: remove object: %w", err)
	}
	return true, nil
}

func (s *ObjectStore) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("storage: list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// FilePath is unsupported: objects have no local path.
func (s *ObjectStore) FilePath(key string) (string, error) {
	return "", ErrUnsupported
}

// SweepOlderThan removes whole per-job key groups whose newest object is
// older than the cutoff.
func (s *ObjectStore) SweepOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	type group struct {
		newest time.Time
		keys   []string
	}
	groups := map[string]*group{}
	for _, prefix := range []string{originalPrefix + "/", processedPrefix + "/"} {
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return 0, fmt.Errorf("storage: list objects: %w", obj.Err)
			}
			parts := strings.SplitN(obj.Key, "/", 3)
			if len(parts) < 3 {
				continue
			}
			dir := parts[0] + "/" + parts[1]
			g, ok := groups[dir]
			if !ok {
				g = &group{}
				groups[dir] = g
			}
			g.keys = append(g.keys, obj.Key)
			if obj.LastModified.After(g.newest) {
				g.newest = obj.LastModified
			}
		}
	}

	removed := 0
	for _, g := range groups {
		if !g.newest.Before(cutoff) {
			continue
		}
		for _, key := range g.keys {
			if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
				return removed, fmt.Errorf("storage: remove object: %w", err)
			}
		}
		removed++
	}
	return removed, nil
}

func (s *ObjectStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return stats, fmt.Errorf("storage: list objects: %w", obj.Err)
		}
		stats.FileCount++
		if strings.HasPrefix(obj.Key, processedPrefix+"/") {
			stats.ProcessedBytes += obj.Size
		} else {
			stats.OriginalBytes += obj.Size
		}
	}
	return stats, nil
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
