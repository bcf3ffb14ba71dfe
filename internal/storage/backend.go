package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Read when the object does not exist
var ErrNotFound = errors.New("object not found")

// Backend stores source files, spill files and exports
type Backend interface {
	// Write stores data at path, replacing any existing object
	Write(ctx context.Context, path string, data []byte) error

	// WriteReader streams data to path; size may be -1 when unknown
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	Read(ctx context.Context, path string) ([]byte, error)

	// List returns the paths of all objects under prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)

	Close() error

	// Type returns "local", "s3" or "azure"
	Type() string
}

// BatchDeleter is implemented by backends that can remove many objects in one call
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, paths []string) error
}

// DeleteAll removes paths, batching when the backend supports it
func DeleteAll(ctx context.Context, b Backend, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if bd, ok := b.(BatchDeleter); ok {
		return bd.DeleteBatch(ctx, paths)
	}
	for _, p := range paths {
		if err := b.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// New creates the backend selected by cfg.Backend
func New(cfg config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	case "s3":
		return NewS3Backend(&S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure":
		return NewAzureBlobBackend(&AzureBlobConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			SASToken:           cfg.AzureSASToken,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			ContainerName:      cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// contentType picks a MIME type from the object suffix
func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".ndjson"):
		return "application/x-ndjson"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(path, ".arrow"), strings.HasSuffix(path, ".arrows"):
		return "application/vnd.apache.arrow.stream"
	case strings.HasSuffix(path, ".msgpack"):
		return "application/msgpack"
	default:
		return "application/octet-stream"
	}
}
