package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// GCSStore stores objects in a Google Cloud Storage bucket
type GCSStore struct {
	client    *gcs.Client
	bucket    string
	projectID string
	logger    *logging.Logger
}

// NewGCSStore creates a GCS client. Without a credentials file the
// application default credentials are used; a custom endpoint (emulator)
// disables authentication.
func NewGCSStore(ctx context.Context, cfg Config, logger *logging.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	var opts []option.ClientOption
	if cfg.GCS.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsPath))
	}
	if cfg.GCS.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint))
		if cfg.GCS.CredentialsPath == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.NewStorageError("failed to create GCS client", err)
	}

	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.GCS.ProjectID,
		logger:    logger,
	}, nil
}

// EnsureContainer creates the bucket in region when it does not exist
func (g *GCSStore) EnsureContainer(ctx context.Context, name, region string) error {
	if name == "" {
		name = g.bucket
	}
	bucket := g.client.Bucket(name)

	_, err := bucket.Attrs(ctx)
	if err == nil {
		g.logger.WithField("bucket", name).Debug("Bucket exists")
		return nil
	}
	if !stderrors.Is(err, gcs.ErrBucketNotExist) {
		g.logger.WithField("bucket", name).Warn("Bucket not accessible, creating it")
	}

	attrs := &gcs.BucketAttrs{}
	if region != "" {
		attrs.Location = region
	}
	if err := bucket.Create(ctx, g.projectID, attrs); err != nil {
		var gerr *googleapi.Error
		if stderrors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return nil
		}
		return errors.NewContainerCreateError(fmt.Sprintf("failed to create bucket %s", name), err).
			WithContext("bucket", name).
			WithContext("region", region)
	}

	g.logger.WithFields(map[string]interface{}{
		"bucket": name,
		"region": region,
	}).Info("Bucket created")
	return nil
}

// Upload streams localPath into key
func (g *GCSStore) Upload(ctx context.Context, localPath, key string, progress ProgressFunc) error {
	file, size, err := openUpload(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	g.logger.WithFields(map[string]interface{}{
		"file":     localPath,
		"location": g.Location(key),
		"bytes":    size,
	}).Info("Uploading to GCS")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startTime := time.Now()
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{
		"original-filename": filepath.Base(localPath),
	}

	if _, err := io.Copy(w, newProgressReader(file, size, progress)); err != nil {
		// Cancelling the context aborts the resumable upload
		cancel()
		w.Close()
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", g.Location(key)), err)
	}
	if err := w.Close(); err != nil {
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", g.Location(key)), err)
	}

	g.logger.WithFields(map[string]interface{}{
		"location": g.Location(key),
		"duration": time.Since(startTime).String(),
	}).Info("Upload completed")
	return nil
}

// Download fetches key into localPath
func (g *GCSStore) Download(ctx context.Context, key, localPath string) (int64, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", g.Location(key)), err)
	}
	defer r.Close()

	file, err := createDownload(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", g.Location(key)), err)
	}
	return n, nil
}

// List returns every object whose name starts with prefix
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.NewStorageError("failed to list objects in GCS", err).
				WithContext("prefix", prefix)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}
	return objects, nil
}

// Delete removes key
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to delete %s", g.Location(key)), err)
	}
	return nil
}

// Location returns gs://bucket/key
func (g *GCSStore) Location(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, key)
}

// Close releases the client
func (g *GCSStore) Close() error {
	return g.client.Close()
}
