package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// archiveKey lays archived invoices out as YYYY/MM/name.
func archiveKey(t time.Time, name string) string {
	return fmt.Sprintf("%d/%02d/%s", t.Year(), t.Month(), filepath.Base(name))
}

// LocalArchiver copies validated invoices below a local directory
type LocalArchiver struct {
	baseDir string
	now     func() time.Time
	logger  *zap.Logger
}

// NewLocalArchiver creates a new LocalArchiver
func NewLocalArchiver(baseDir string, logger *zap.Logger) *LocalArchiver {
	return &LocalArchiver{
		baseDir: baseDir,
		now:     time.Now,
		logger:  logger,
	}
}

// Archive copies localPath to baseDir/YYYY/MM/name and returns the new path
func (a *LocalArchiver) Archive(ctx context.Context, localPath, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(a.baseDir, filepath.FromSlash(archiveKey(a.now(), name)))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := utils.CopyFile(localPath, dst); err != nil {
		a.logger.Error("Failed to archive file",
			zap.String("source", localPath),
			zap.String("destination", dst),
			zap.Error(err))
		return "", fmt.Errorf("failed to archive file: %w", err)
	}

	a.logger.Info("Invoice archived", zap.String("path", dst))
	return dst, nil
}

// Verify interface compliance
var _ port.Archiver = (*LocalArchiver)(nil)
