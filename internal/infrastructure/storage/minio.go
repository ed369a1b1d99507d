package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
)

// MinioConfig holds MinIO connection settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinioArchiver uploads validated invoices to an object store
type MinioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewMinioArchiver connects to MinIO and checks that the bucket exists
func NewMinioArchiver(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioArchiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	logger.Info("MinIO archive ready",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket))

	return &MinioArchiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Archive uploads localPath as {prefix}/YYYY/MM/name and returns "bucket/object"
func (a *MinioArchiver) Archive(ctx context.Context, localPath, name string) (string, error) {
	objectName := a.objectName(name)

	info, err := a.client.FPutObject(ctx, a.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		a.logger.Error("Failed to upload invoice",
			zap.String("object", objectName),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload invoice: %w", err)
	}

	a.logger.Info("Invoice archived",
		zap.String("bucket", a.bucket),
		zap.String("object", objectName),
		zap.Int64("size", info.Size))

	return a.bucket + "/" + objectName, nil
}

// PresignedURL returns a temporary download link for an archived invoice
func (a *MinioArchiver) PresignedURL(ctx context.Context, archivePath string, expiry time.Duration) (string, error) {
	objectName := archivePath
	if len(archivePath) > len(a.bucket)+1 && archivePath[:len(a.bucket)+1] == a.bucket+"/" {
		objectName = archivePath[len(a.bucket)+1:]
	}

	u, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

func (a *MinioArchiver) objectName(name string) string {
	return path.Join(a.prefix, archiveKey(a.now(), name))
}

// Verify interface compliance
var _ port.Archiver = (*MinioArchiver)(nil)
