package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// regionWithoutConstraint is the one region where CreateBucket must be sent
// without a LocationConstraint
const regionWithoutConstraint = "us-east-1"

// S3Store stores objects in an S3 or S3-compatible bucket
type S3Store struct {
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	logger     *logging.Logger
}

// NewS3Store creates an S3 client from cfg. A custom endpoint switches to
// path-style addressing.
func NewS3Store(cfg Config, logger *logging.Logger) (*S3Store, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	awsConfig := &aws.Config{
		Region:     aws.String(cfg.Region),
		HTTPClient: &http.Client{Timeout: 30 * time.Minute},
	}
	if cfg.S3.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.S3.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.S3.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			cfg.S3.AccessKey,
			cfg.S3.SecretKey,
			cfg.S3.SessionToken,
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.NewStorageError("failed to create AWS session", err)
	}

	partSize := cfg.S3.PartSize
	if partSize == 0 {
		partSize = DefaultS3PartSize
	}

	client := s3.New(sess)
	store := &S3Store{
		client: client,
		uploader: s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
			u.PartSize = partSize
		}),
		downloader: s3manager.NewDownloaderWithClient(client),
		bucket:     cfg.Bucket,
		logger:     logger,
	}

	logger.WithFields(map[string]interface{}{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.S3.Endpoint,
	}).Debug("S3 store initialized")

	return store, nil
}

// EnsureContainer probes the bucket with HeadBucket and creates it when the
// probe fails
func (s *S3Store) EnsureContainer(ctx context.Context, name, region string) error {
	if name == "" {
		name = s.bucket
	}

	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(name),
	})
	if err == nil {
		s.logger.WithField("bucket", name).Debug("Bucket exists")
		return nil
	}
	s.logger.WithField("bucket", name).Warn("Bucket not accessible, creating it")

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "" && region != regionWithoutConstraint {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(region),
		}
	}

	if _, err := s.client.CreateBucketWithContext(ctx, input); err != nil {
		var aerr awserr.Error
		if stderrors.As(err, &aerr) && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			s.logger.WithField("bucket", name).Debug("Bucket already owned by caller")
			return nil
		}
		return errors.NewContainerCreateError(fmt.Sprintf("failed to create bucket %s", name), err).
			WithContext("bucket", name).
			WithContext("region", region)
	}

	s.logger.WithFields(map[string]interface{}{
		"bucket": name,
		"region": region,
	}).Info("Bucket created")
	return nil
}

// Upload streams localPath to key with the multipart uploader
func (s *S3Store) Upload(ctx context.Context, localPath, key string, progress ProgressFunc) error {
	file, size, err := openUpload(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	s.logger.WithFields(map[string]interface{}{
		"file":     localPath,
		"location": s.Location(key),
		"bytes":    size,
	}).Info("Uploading to S3")

	startTime := time.Now()
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   newProgressReader(file, size, progress),
		Metadata: map[string]*string{
			"original-filename": aws.String(filepath.Base(localPath)),
		},
	})
	if err != nil {
		return errors.NewUploadError(fmt.Sprintf("failed to upload %s", s.Location(key)), err).
			WithContext("key", key)
	}

	s.logger.WithFields(map[string]interface{}{
		"location": s.Location(key),
		"duration": time.Since(startTime).String(),
	}).Info("Upload completed")
	return nil
}

// Download fetches key into localPath
func (s *S3Store) Download(ctx context.Context, key, localPath string) (int64, error) {
	file, err := createDownload(localPath)
	if err != nil {
		return 0, err
	}

	n, err := s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	closeErr := file.Close()
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to download %s", s.Location(key)), err)
	}
	if closeErr != nil {
		return 0, errors.WrapError(closeErr, errors.ErrorTypeStorage, "failed to close download file")
	}
	return n, nil
}

// List returns every object whose key starts with prefix
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.StringValue(obj.Key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to list objects in S3", err).
			WithContext("prefix", prefix)
	}
	return objects, nil
}

// Delete removes key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to delete %s", s.Location(key)), err)
	}
	return nil
}

// Location returns s3://bucket/key
func (s *S3Store) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
