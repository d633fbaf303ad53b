package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

const (
	azureBlockSize   = 4 * 1024 * 1024
	azureParallelism = 16
)

// AzureStore stores blobs in an Azure Blob Storage container
type AzureStore struct {
	serviceURL azblob.ServiceURL
	container  string
	account    string
	logger     *logging.Logger
}

// NewAzureStore creates an Azure client with a shared key credential. The
// endpoint defaults to https://{account}.blob.core.windows.net.
func NewAzureStore(cfg Config, logger *logging.Logger) (*AzureStore, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.Azure.AccountName, cfg.Azure.AccountKey)
	if err != nil {
		return nil, errors.NewStorageError("failed to create Azure credentials", err)
	}

	endpoint := cfg.Azure.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Azure.AccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to parse Azure endpoint", err).
			WithContext("endpoint", endpoint)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	return &AzureStore{
		serviceURL: azblob.NewServiceURL(*serviceURL, pipeline),
		container:  cfg.Bucket,
		account:    cfg.Azure.AccountName,
		logger:     logger,
	}, nil
}

// EnsureContainer creates the container when GetProperties fails. Azure has
// no per-container region so region is ignored.
func (a *AzureStore) EnsureContainer(ctx context.Context, name, region string) error {
	if name == "" {
		name = a.container
	}
	containerURL := a.serviceURL.NewContainerURL(name)

	if _, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err == nil {
		a.logger.WithField("container", name).Debug("Container exists")
		return nil
	}

	_, err := containerURL.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err != nil {
		var serr azblob.StorageError
		if stderrors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
			return nil
		}
		return errors.NewContainerCreateError(fmt.Sprintf("failed to create container %s", name), err).
			WithContext("container", name)
	}

	a.logger.WithField("container", name).Info("Container created")
	return nil
}

// Upload writes localPath as a block blob
func (a *AzureStore) Upload(ctx context.Context, localPath, key string, progress ProgressFunc) error {
	file, size, err := openUpload(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	a.logger.WithFields(map[string]interface{}{
		"file":     localPath,
		"location": a.Location(key),
		"bytes":    size,
	}).Info("Uploading to Azure")

	options := azblob.UploadToBlockBlobOptions{
		BlockSize:   azureBlockSize,
		Parallelism: azureParallelism,
		Metadata: azblob.Metadata{
			"originalfilename": filepath.Base(localPath),
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	}
	if progress != nil {
		options.Progress = func(bytesTransferred int64) {
			progress(bytesTransferred, size)
		}
	}

	startTime := time.Now()
	blobURL := a.serviceURL.NewContainerURL(a.container).NewBlockBlobURL(key)
	if _, err := azblob.UploadFileToBlockBlob(ctx, file, blobURL, options); err != nil {
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", a.Location(key)), err)
	}

	a.logger.WithFields(map[string]interface{}{
		"location": a.Location(key),
		"duration": time.Since(startTime).String(),
	}).Info("Upload completed")
	return nil
}

// Download fetches key into localPath
func (a *AzureStore) Download(ctx context.Context, key, localPath string) (int64, error) {
	blobURL := a.serviceURL.NewContainerURL(a.container).NewBlockBlobURL(key)

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", a.Location(key)), err)
	}
	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	file, err := createDownload(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", a.Location(key)), err)
	}
	return n, nil
}

// List returns every blob whose name starts with prefix
func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	containerURL := a.serviceURL.NewContainerURL(a.container)
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, errors.NewStorageError("failed to list blobs in Azure", err).
				WithContext("prefix", prefix)
		}

		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{
				Key:          blob.Name,
				LastModified: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

// Delete removes key and its snapshots
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blobURL := a.serviceURL.NewContainerURL(a.container).NewBlockBlobURL(key)
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to delete %s", a.Location(key)), err)
	}
	return nil
}

// Location returns azure://account/container/key
func (a *AzureStore) Location(key string) string {
	return fmt.Sprintf("azure://%s/%s/%s", a.account, a.container, strings.TrimPrefix(key, "/"))
}
