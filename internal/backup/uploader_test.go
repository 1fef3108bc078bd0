package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blendsoftware/possync/internal/config"
)

type mockS3Client struct {
	mu      sync.Mutex
	objects []string
	err     error
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.objects = append(m.objects, bucket+"/"+objectName)
	return nil
}

func (m *mockS3Client) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func TestNoopUploader_UploadIsNoOp(t *testing.T) {
	u := &NoopUploader{}
	if err := u.Upload(context.Background(), "kiosco-1", "/some/path"); err != nil {
		t.Errorf("NoopUploader.Upload() should not error, got %v", err)
	}
	if u.Enabled() {
		t.Error("NoopUploader must report disabled")
	}
}

func TestNewUploader_EmptyBucketReturnsNoop(t *testing.T) {
	u, err := NewUploader(config.BackupConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_BucketWithoutEndpoint(t *testing.T) {
	_, err := NewUploader(config.BackupConfig{Bucket: "possync-backups"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewUploader_WithBucketReturnsS3(t *testing.T) {
	u, err := NewUploader(config.BackupConfig{
		Bucket:    "possync-backups",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*S3Uploader); !ok {
		t.Errorf("expected *S3Uploader, got %T", u)
	}
}

func TestS3Uploader_UploadUsesTerminalKey(t *testing.T) {
	client := &mockS3Client{}
	u := &S3Uploader{client: client, bucket: "possync-backups"}

	if err := u.Upload(context.Background(), "kiosco-1", "/data/possync.db"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	want := "possync-backups/kiosco-1/backup/possync.db"
	if len(client.objects) != 1 || client.objects[0] != want {
		t.Errorf("expected object %q, got %v", want, client.objects)
	}
}

func TestS3Uploader_UploadWrapsError(t *testing.T) {
	client := &mockS3Client{err: errors.New("access denied")}
	u := &S3Uploader{client: client, bucket: "possync-backups"}

	if err := u.Upload(context.Background(), "kiosco-1", "/data/possync.db"); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestWorker_UploadsOnStartAndStops(t *testing.T) {
	client := &mockS3Client{}
	u := &S3Uploader{client: client, bucket: "possync-backups"}
	w := NewWorker(u, "kiosco-1", "/data/possync.db", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && client.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if client.count() < 2 {
		t.Fatal("expected startup upload plus at least one periodic upload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
