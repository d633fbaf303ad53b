package storage

import (
	"fmt"
	"strings"
)

// Provider names an object store backend
type Provider string

const (
	ProviderS3    Provider = "s3"
	ProviderGCS   Provider = "gcs"
	ProviderAzure Provider = "azure"
	ProviderLocal Provider = "local"
)

// Defaults applied by SetDefaults
const (
	DefaultProvider      = ProviderS3
	DefaultBucket        = "db-backups"
	DefaultRegion        = "us-east-1"
	DefaultPrefix        = "backups/{table}/{date}/"
	DefaultLocalBasePath = "./backup_store"
	DefaultS3PartSize    = 16 * 1024 * 1024
)

// minPartSize is the smallest multipart chunk S3 accepts
const minPartSize = 5 * 1024 * 1024

// SupportedProviders returns every provider NewObjectStore can build
func SupportedProviders() []Provider {
	return []Provider{ProviderS3, ProviderGCS, ProviderAzure, ProviderLocal}
}

// Config selects and configures the object store. Bucket is the S3/GCS
// bucket or the Azure container; for the local provider it is a
// subdirectory of Local.BasePath.
type Config struct {
	Provider Provider    `mapstructure:"provider" yaml:"provider"`
	Bucket   string      `mapstructure:"bucket" yaml:"bucket"`
	Region   string      `mapstructure:"region" yaml:"region"`
	Prefix   string      `mapstructure:"prefix" yaml:"prefix"`
	S3       S3Config    `mapstructure:"s3" yaml:"s3"`
	GCS      GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
	Azure    AzureConfig `mapstructure:"azure" yaml:"azure"`
	Local    LocalConfig `mapstructure:"local" yaml:"local"`
}

// S3Config holds S3 and S3-compatible settings. Empty credentials fall back
// to the AWS default chain (env, shared config, instance role).
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	SessionToken   string `mapstructure:"session_token" yaml:"session_token"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	PartSize       int64  `mapstructure:"part_size" yaml:"part_size"`
}

// GCSConfig holds Google Cloud Storage settings
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
}

// AzureConfig holds Azure Blob Storage settings
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LocalConfig holds settings for the filesystem store
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	c.Provider = Provider(strings.ToLower(string(c.Provider)))
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.S3.PartSize == 0 {
		c.S3.PartSize = DefaultS3PartSize
	}
	if c.Local.BasePath == "" {
		c.Local.BasePath = DefaultLocalBasePath
	}
}

// Validate checks the settings of the selected provider
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix %q must not start with '/'", c.Prefix)
	}

	switch c.Provider {
	case ProviderS3:
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("s3 access_key and secret_key must be set together")
		}
		if c.S3.PartSize != 0 && c.S3.PartSize < minPartSize {
			return fmt.Errorf("s3 part_size must be at least %d bytes", minPartSize)
		}
	case ProviderGCS:
		if c.GCS.ProjectID == "" {
			return fmt.Errorf("gcs project_id is required")
		}
	case ProviderAzure:
		if c.Azure.AccountName == "" {
			return fmt.Errorf("azure account_name is required")
		}
		if c.Azure.AccountKey == "" {
			return fmt.Errorf("azure account_key is required")
		}
	case ProviderLocal:
		if c.Local.BasePath == "" {
			return fmt.Errorf("local base_path is required")
		}
	default:
		return fmt.Errorf("unsupported provider %q (supported: s3, gcs, azure, local)", c.Provider)
	}
	return nil
}

// Redacted returns a copy with credentials masked
func (c Config) Redacted() Config {
	if c.S3.AccessKey != "" {
		c.S3.AccessKey = "***"
	}
	if c.S3.SecretKey != "" {
		c.S3.SecretKey = "***"
	}
	if c.S3.SessionToken != "" {
		c.S3.SessionToken = "***"
	}
	if c.Azure.AccountKey != "" {
		c.Azure.AccountKey = "***"
	}
	return c
}
