// Package backup ships copies of the replica database to S3-compatible
// storage for audit and disaster recovery. When no bucket is configured the
// NoopUploader is used and the terminal stays fully local.
package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/blendsoftware/possync/internal/config"
)

// ErrNotConfigured is returned when a bucket is set without the endpoint
// needed to reach it.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader ships database copies to remote storage.
type Uploader interface {
	// Upload uploads the database file at filePath for the given terminal.
	Upload(ctx context.Context, kioscoID string, filePath string) error

	// Enabled reports whether uploads actually leave the device.
	Enabled() bool
}

// s3Client defines the minimal minio.Client surface used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// S3Uploader uploads database copies to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload uploads the database file for the given terminal.
func (u *S3Uploader) Upload(ctx context.Context, kioscoID string, filePath string) error {
	if err := u.client.FPutObject(ctx, u.bucket, objectKey(kioscoID), filePath); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// Enabled reports true; S3Uploader always ships.
func (u *S3Uploader) Enabled() bool { return true }

// NoopUploader is used when backup storage is not configured.
type NoopUploader struct{}

// Upload is a no-op when backups are not configured.
func (u *NoopUploader) Upload(ctx context.Context, kioscoID string, filePath string) error {
	return nil
}

// Enabled reports false; nothing leaves the device.
func (u *NoopUploader) Enabled() bool { return false }

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("bucket %q: %w", cfg.Bucket, ErrNotConfigured)
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// objectKey returns the S3 object key for a terminal's backup.
// Convention: {kiosco_id}/backup/possync.db
func objectKey(kioscoID string) string {
	return kioscoID + "/backup/possync.db"
}
