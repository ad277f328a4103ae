// Package objectstore provides the uploaded-file storage consumed by the
// knowledge ingestion pipeline: put-by-path with idempotent overwrite,
// returning a public retrieval URL.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrPathEscapes is returned when a storage path tries to leave the base dir.
var ErrPathEscapes = errors.New("storage path escapes base directory")

// Store is the object store contract: put-by-path (overwrite is idempotent)
// returning a public URL, plus deletion and temp-file expiry.
type Store interface {
	// Put writes data at the given relative path, overwriting any previous
	// object, and returns the public retrieval URL.
	Put(ctx context.Context, relPath string, data []byte) (string, error)

	// Delete removes the object at the given relative path.
	Delete(ctx context.Context, relPath string) error

	// Open returns the object contents for serving.
	Open(ctx context.Context, relPath string) ([]byte, error)

	// URL returns the public URL for a stored path.
	URL(relPath string) string

	// DeleteExpired removes temp-area objects older than maxAge.
	DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// Config configures the filesystem store.
type Config struct {
	// BaseDir is the root directory for stored objects.
	BaseDir string `yaml:"base_dir"`

	// TempDir holds staging uploads subject to expiry sweeps.
	TempDir string `yaml:"temp_dir"`

	// BaseURL is the public URL prefix objects are served under.
	BaseURL string `yaml:"base_url"`

	// MaxObjectSize is the largest accepted object in bytes.
	MaxObjectSize int64 `yaml:"max_object_size"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseDir:       "./data/objects",
		TempDir:       "./data/objects/tmp",
		BaseURL:       "/files",
		MaxObjectSize: 25 * 1024 * 1024, // 25MB
	}
}

// FileSystemStore implements Store on the local filesystem.
type FileSystemStore struct {
	config Config
	logger *slog.Logger
}

// NewFileSystemStore creates a filesystem-backed object store.
func NewFileSystemStore(cfg Config, logger *slog.Logger) *FileSystemStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "./data/objects"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.BaseDir, "tmp")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "/files"
	}
	if cfg.MaxObjectSize == 0 {
		cfg.MaxObjectSize = 25 * 1024 * 1024
	}
	return &FileSystemStore{
		config: cfg,
		logger: logger.With("component", "objectstore"),
	}
}

// Put writes data at relPath. Writing the same path twice overwrites in place.
func (s *FileSystemStore) Put(ctx context.Context, relPath string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("no data provided")
	}
	if int64(len(data)) > s.config.MaxObjectSize {
		return "", fmt.Errorf("object size %d exceeds maximum %d", len(data), s.config.MaxObjectSize)
	}

	full, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return "", fmt.Errorf("writing object: %w", err)
	}

	s.logger.Debug("object stored", "path", relPath, "size", len(data))
	return s.URL(relPath), nil
}

// Delete removes the object at relPath. Missing objects are not an error.
func (s *FileSystemStore) Delete(ctx context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Open returns the object contents.
func (s *FileSystemStore) Open(ctx context.Context, relPath string) ([]byte, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// URL returns the public URL for relPath.
func (s *FileSystemStore) URL(relPath string) string {
	return s.config.BaseURL + "/" + path.Clean(strings.TrimPrefix(relPath, "/"))
}

// PathFromURL maps a public URL back to the stored relative path, or ""
// when the URL does not belong to this store.
func (s *FileSystemStore) PathFromURL(url string) string {
	prefix := s.config.BaseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return ""
	}
	return strings.TrimPrefix(url, prefix)
}

// DeleteExpired removes temp-area files older than maxAge.
func (s *FileSystemStore) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	count := 0

	err := filepath.WalkDir(s.config.TempDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				s.logger.Warn("failed to delete expired object", "path", p, "error", err)
				return nil
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("sweeping temp objects: %w", err)
	}
	return count, nil
}

// resolve joins relPath under the base directory and rejects traversal.
func (s *FileSystemStore) resolve(relPath string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(relPath, "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", ErrPathEscapes
	}
	return filepath.Join(s.config.BaseDir, filepath.FromSlash(cleaned)), nil
}
