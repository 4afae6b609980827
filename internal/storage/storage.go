// Package storage persists generated report files such as the monthly usage
// exports.
//
// Two backends are available: LocalStorage writes below a directory on disk
// for development, R2Storage writes to a Cloudflare R2 (S3-compatible) bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Storage defines the object operations the exporter needs.
type Storage interface {
	// Put stores data at key. ErrKeyExists is returned when the key is taken
	// and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get opens the object at key. The caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// URL returns a link to the object. A zero expires asks for a permanent
	// public link where the backend has one.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType defaults to the type registered for the key's extension.
	ContentType string
	Overwrite   bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, e.g. "./storage".
	BasePath string
	// BaseURL is the public prefix for stored files, e.g. "http://localhost:8080/files".
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the bucket's custom domain. Without it every link is presigned.
	PublicURL string
	// Region defaults to "auto".
	Region string
}

// New builds the backend named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// UsageExportKey returns the key of the usage export for the month containing t.
// Format: exports/usage-YYYY-MM.csv
func UsageExportKey(t time.Time) string {
	return fmt.Sprintf("exports/usage-%s.csv", t.UTC().Format("2006-01"))
}

// contentTypeFor resolves the MIME type for a key.
func contentTypeFor(provided, key string) string {
	if provided != "" {
		return provided
	}
	ext := strings.ToLower(filepath.Ext(key))
	if ext == ".csv" {
		// Not in Go's builtin table; system mime.types varies by host.
		return "text/csv; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// validateKey rejects empty keys and path traversal.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
