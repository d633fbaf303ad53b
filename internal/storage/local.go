package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// LocalStore keeps objects as files under {base_path}/{bucket}/{key}
type LocalStore struct {
	basePath string
	bucket   string
	logger   *logging.Logger
}

// NewLocalStore creates a filesystem store rooted at cfg.Local.BasePath
func NewLocalStore(cfg Config, logger *logging.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if cfg.Local.BasePath == "" {
		return nil, errors.NewConfigurationError("local base_path is required", nil)
	}
	return &LocalStore{
		basePath: cfg.Local.BasePath,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// EnsureContainer creates the bucket directory
func (l *LocalStore) EnsureContainer(ctx context.Context, name, region string) error {
	if name == "" {
		name = l.bucket
	}
	dir := filepath.Join(l.basePath, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewContainerCreateError(fmt.Sprintf("failed to create directory %s", dir), err)
	}
	return nil
}

// objectPath maps key to a file below the bucket directory
func (l *LocalStore) objectPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.NewStorageError(fmt.Sprintf("invalid object key %q", key), nil)
	}
	return filepath.Join(l.basePath, l.bucket, clean), nil
}

// Upload copies localPath into place through a temporary file so readers
// never see a partial object
func (l *LocalStore) Upload(ctx context.Context, localPath, key string, progress ProgressFunc) error {
	file, size, err := openUpload(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	target, err := l.objectPath(key)
	if err != nil {
		return errors.NewUploadError("invalid object key", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.NewUploadError("failed to create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return errors.NewUploadError("failed to create temporary object", err)
	}
	defer os.Remove(tmp.Name())

	startTime := time.Now()
	_, err = io.Copy(tmp, newProgressReader(file, size, progress))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", l.Location(key)), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", l.Location(key)), err)
	}

	l.logger.WithFields(map[string]interface{}{
		"location": l.Location(key),
		"bytes":    size,
		"duration": time.Since(startTime).String(),
	}).Info("Upload completed")
	return nil
}

// Download copies key into localPath
func (l *LocalStore) Download(ctx context.Context, key, localPath string) (int64, error) {
	source, err := l.objectPath(key)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(source)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", l.Location(key)), err)
	}
	defer in.Close()

	out, err := createDownload(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", l.Location(key)), err)
	}
	return n, nil
}

// List walks the bucket directory and returns keys starting with prefix,
// sorted by key
func (l *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := filepath.Join(l.basePath, l.bucket)
	var objects []ObjectInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to list local objects", err).
			WithContext("prefix", prefix)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes key
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	target, err := l.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to delete %s", l.Location(key)), err)
	}
	return nil
}

// Location returns file://{base_path}/{bucket}/{key}
func (l *LocalStore) Location(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(l.basePath, l.bucket, key))
}
