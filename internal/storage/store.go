// Package storage uploads backup artifacts to an object store. S3 (and
// S3-compatible endpoints), Google Cloud Storage, Azure Blob Storage and a
// local directory are supported behind one interface.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// ProgressFunc observes an upload. It cannot abort the transfer.
type ProgressFunc func(transferred, total int64)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is a bucket-style object store
type ObjectStore interface {
	// EnsureContainer creates the bucket if it does not exist. An existing
	// bucket owned by the caller counts as success.
	EnsureContainer(ctx context.Context, name, region string) error
	// Upload copies localPath to key, overwriting any existing object
	Upload(ctx context.Context, localPath, key string, progress ProgressFunc) error
	Download(ctx context.Context, key, localPath string) (int64, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// Location renders key as a provider URL, e.g. s3://bucket/key
	Location(key string) string
}

// NewObjectStore builds the store selected by cfg.Provider
func NewObjectStore(ctx context.Context, cfg Config, logger *logging.Logger) (ObjectStore, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid storage configuration", err).
			WithUserMessage(err.Error())
	}

	switch cfg.Provider {
	case ProviderS3:
		return NewS3Store(cfg, logger)
	case ProviderGCS:
		return NewGCSStore(ctx, cfg, logger)
	case ProviderAzure:
		return NewAzureStore(cfg, logger)
	case ProviderLocal:
		return NewLocalStore(cfg, logger)
	default:
		return nil, errors.NewConfigurationError("unsupported storage provider", nil).
			WithContext("provider", string(cfg.Provider))
	}
}

// openUpload opens the file to upload and returns its size. A missing file
// is a local_file_missing error.
func openUpload(localPath string) (*os.File, int64, error) {
	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return nil, 0, errors.NewLocalFileMissingError(localPath)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, errors.NewLocalFileMissingError(localPath)
	}
	return f, info.Size(), nil
}

// createDownload opens localPath for writing, creating parent directories
func createDownload(localPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "failed to create download directory")
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "failed to create download file")
	}
	return f, nil
}

// progressReader reports bytes as they are read by the uploader. It hides
// Seek and ReadAt so multipart uploaders read each byte exactly once.
type progressReader struct {
	r        io.Reader
	total    int64
	progress ProgressFunc

	mu   sync.Mutex
	read int64
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		read := p.read
		p.mu.Unlock()
		p.progress(read, p.total)
	}
	return n, err
}

// LogProgress returns a ProgressFunc that logs each 10% step of an upload
func LogProgress(logger *logging.Logger, name string) ProgressFunc {
	var mu sync.Mutex
	lastStep := int64(-1)

	return func(transferred, total int64) {
		step := int64(10)
		if total > 0 {
			step = transferred * 10 / total
		}

		mu.Lock()
		if step <= lastStep {
			mu.Unlock()
			return
		}
		lastStep = step
		mu.Unlock()

		logger.WithFields(map[string]interface{}{
			"file":        name,
			"transferred": transferred,
			"total":       total,
			"percent":     step * 10,
		}).Info("Upload progress")
	}
}
