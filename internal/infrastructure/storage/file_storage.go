package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// LocalFileStorage keeps uploaded batches below a root directory.
// Every relative path is resolved against the root and may not leave it.
type LocalFileStorage struct {
	root   string
	logger *zap.Logger
}

func NewLocalFileStorage(root string, logger *zap.Logger) port.FileStorage {
	return &LocalFileStorage{root: root, logger: logger}
}

// Save streams r to path and returns the full path. The file appears only
// once completely written; cancelling ctx aborts the copy.
func (s *LocalFileStorage) Save(ctx context.Context, path string, r io.Reader) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories for %s: %w", path, err)
	}

	var size int64
	err = utils.WriteFileAtomic(full, func(w io.Writer) error {
		size, err = io.Copy(w, ctxReader{ctx: ctx, r: r})
		return err
	})
	if err != nil {
		s.logger.Error("Upload not stored", zap.String("path", full), zap.Error(err))
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug("Upload stored", zap.String("path", full), zap.Int64("bytes", size))
	return full, nil
}

// Open returns port.ErrNotFound for a missing file.
func (s *LocalFileStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	switch {
	case os.IsNotExist(err):
		return nil, fmt.Errorf("file %s: %w", path, port.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func (s *LocalFileStorage) Exists(ctx context.Context, path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Delete is idempotent: a missing file is not an error.
func (s *LocalFileStorage) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// GetFullPath joins relativePath to the root without checking it.
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.root, relativePath)
}

func (s *LocalFileStorage) resolve(path string) (string, error) {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage root: %w", err)
	}
	full, err := filepath.Abs(filepath.Join(s.root, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(absRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %s", path)
	}
	return full, nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ port.FileStorage = (*LocalFileStorage)(nil)
