package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrFileNotFound is returned when a path/key has no stored bytes.
	ErrFileNotFound = errors.New("storage: file not found")
	// ErrUnsupported is returned for operations a backend cannot provide,
	// such as local-path retrieval on object storage.
	ErrUnsupported = errors.New("storage: operation not supported")
)

// Stats summarizes stored bytes for diagnostics.
type Stats struct {
	OriginalBytes  int64
	ProcessedBytes int64
	FileCount      int
}

// Backend persists original and processed image bytes. Both implementations
// share one key layout: {original|processed}/{job_id}/{filename}.
type Backend interface {
	// SaveOriginal stores an uploaded file and returns its key.
	SaveOriginal(ctx context.Context, data []byte, filename, jobID string) (string, error)

	// SaveProcessed stores a processing result under the canonical output
	// name (always .png) and returns its key.
	SaveProcessed(ctx context.Context, data []byte, filename, jobID string) (string, error)

	// GetFile retrieves stored bytes. Returns ErrFileNotFound when absent.
	GetFile(ctx context.Context, key string) ([]byte, error)

	// DeleteFile removes a stored file, reporting whether it existed.
	DeleteFile(ctx context.Context, key string) (bool, error)

	// ListFiles returns all keys with the given prefix.
	ListFiles(ctx context.Context, prefix string) ([]string, error)

	// FilePath resolves a key to a local filesystem path for streaming.
	// Object-storage backends return ErrUnsupported.
	FilePath(key string) (string, error)

	// SweepOlderThan removes whole per-job directories (or key groups)
	// last touched before the cutoff, returning how many were removed.
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Stats reports stored sizes for the admin surface.
	Stats(ctx context.Context) (Stats, error)
}

const (
	originalPrefix  = "original"
	processedPrefix = "processed"
)

// OriginalKey builds the storage key for an uploaded file.
func OriginalKey(jobID, filename string) string {
	return path.Join(originalPrefix, jobID, path.Base(filename))
}

// ProcessedKey builds the storage key for a processing result, normalized to
// the canonical .png output extension.
func ProcessedKey(jobID, filename string) string {
	return path.Join(processedPrefix, jobID, ProcessedFilename(filename))
}

// JobPrefixes returns both key prefixes holding a job's files.
func JobPrefixes(jobID string) []string {
	return []string{
		path.Join(originalPrefix, jobID),
		path.Join(processedPrefix, jobID),
	}
}

// ProcessedFilename derives the output filename from the original one.
// Output is always PNG so transparency survives.
func ProcessedFilename(original string) string {
	base := path.Base(original)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		stem = "output"
	}
	return stem + ".png"
}

// Options selects and configures the concrete backend.
type Options struct {
	Backend   string // "local" or "s3"
	LocalPath string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// New builds the backend named by opts.Backend.
func New(opts Options) (Backend, error) {
	switch opts.Backend {
	case "", "local":
		return NewFileStore(opts.LocalPath)
	case "s3":
		return NewObjectStore(opts)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}
