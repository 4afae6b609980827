package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage stores objects below a base directory.
type LocalStorage struct {
	basePath string
	baseURL  string
	logger   *slog.Logger
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	logger.Info("initialized local storage", "base_path", absPath, "base_url", baseURL)

	return &LocalStorage{
		basePath: absPath,
		baseURL:  baseURL,
		logger:   logger,
	}, nil
}

// Put writes to a temporary file in the target directory and renames it into
// place, so readers never observe a partial export.
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.resolvePath(key)
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return &StorageError{Op: "put", Key: key, Err: ErrKeyExists}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("create temp file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("write file: %w", err)}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("rename file: %w", err)}
	}

	s.logger.Debug("stored file",
		"key", key,
		"size", written,
		"content_type", contentTypeFor(opts.ContentType, key),
	)
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}

	path, err := s.resolvePath(key)
	if err != nil {
		return nil, ObjectInfo{}, &StorageError{Op: "get", Key: key, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
		}
		return nil, ObjectInfo{}, &StorageError{Op: "get", Key: key, Err: err}
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, &StorageError{Op: "get", Key: key, Err: err}
	}

	return f, ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		ContentType:  contentTypeFor("", key),
		LastModified: stat.ModTime(),
	}, nil
}

// URL ignores expires; local files are always served from the public prefix.
func (s *LocalStorage) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.resolvePath(key); err != nil {
		return "", &StorageError{Op: "url", Key: key, Err: err}
	}
	return s.baseURL + "/" + key, nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := s.resolvePath(key)
	if err != nil {
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

// resolvePath maps a key to a path that is guaranteed to stay under basePath.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}
