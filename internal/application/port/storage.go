package port

import (
	"context"
	"io"
)

// FileStorage manages files below a root directory.
type FileStorage interface {
	Save(ctx context.Context, path string, r io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	GetFullPath(relativePath string) string
}

// Archiver keeps a copy of every validated invoice.
type Archiver interface {
	// Archive stores the file at localPath and returns its archive location.
	Archive(ctx context.Context, localPath, name string) (string, error)
}
