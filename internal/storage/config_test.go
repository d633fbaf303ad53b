package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, ProviderS3, cfg.Provider)
	assert.Equal(t, "db-backups", cfg.Bucket)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "backups/{table}/{date}/", cfg.Prefix)
	assert.Equal(t, int64(DefaultS3PartSize), cfg.S3.PartSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SetDefaultsNormalizesProvider(t *testing.T) {
	cfg := Config{Provider: "LOCAL"}
	cfg.SetDefaults()
	assert.Equal(t, ProviderLocal, cfg.Provider)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid s3", func(c *Config) {}, ""},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, "bucket is required"},
		{"absolute prefix", func(c *Config) { c.Prefix = "/backups" }, "must not start"},
		{"half credentials", func(c *Config) { c.S3.AccessKey = "AKID" }, "set together"},
		{"small parts", func(c *Config) { c.S3.PartSize = 1024 }, "part_size"},
		{"gcs without project", func(c *Config) { c.Provider = ProviderGCS }, "project_id"},
		{"azure without account", func(c *Config) { c.Provider = ProviderAzure }, "account_name"},
		{"azure without key", func(c *Config) {
			c.Provider = ProviderAzure
			c.Azure.AccountName = "acct"
		}, "account_key"},
		{"unknown provider", func(c *Config) { c.Provider = "ftp" }, "unsupported provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.SetDefaults()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Config{
		S3:    S3Config{AccessKey: "AKID", SecretKey: "secret", SessionToken: "token"},
		Azure: AzureConfig{AccountName: "acct", AccountKey: "key"},
	}

	redacted := cfg.Redacted()
	assert.Equal(t, "***", redacted.S3.AccessKey)
	assert.Equal(t, "***", redacted.S3.SecretKey)
	assert.Equal(t, "***", redacted.S3.SessionToken)
	assert.Equal(t, "***", redacted.Azure.AccountKey)
	assert.Equal(t, "acct", redacted.Azure.AccountName)
	assert.Equal(t, "secret", cfg.S3.SecretKey, "original untouched")
}

func TestNewObjectStore_InvalidProvider(t *testing.T) {
	_, err := NewObjectStore(context.Background(), Config{Provider: "ftp"}, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestNewObjectStore_Azure(t *testing.T) {
	store, err := NewObjectStore(context.Background(), Config{
		Provider: ProviderAzure,
		Bucket:   "backups",
		Azure: AzureConfig{
			AccountName: "devstoreaccount1",
			AccountKey:  "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==",
			Endpoint:    "http://127.0.0.1:10000/devstoreaccount1",
		},
	}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "azure://devstoreaccount1/backups/a/b.gpg", store.Location("a/b.gpg"))
}

func TestNewObjectStore_AzureRejectsBadKey(t *testing.T) {
	_, err := NewObjectStore(context.Background(), Config{
		Provider: ProviderAzure,
		Azure:    AzureConfig{AccountName: "acct", AccountKey: "not base64!"},
	}, logging.NewNopLogger())
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestNewObjectStore_GCSEmulator(t *testing.T) {
	store, err := NewObjectStore(context.Background(), Config{
		Provider: ProviderGCS,
		Bucket:   "backups",
		GCS:      GCSConfig{ProjectID: "test", Endpoint: "http://127.0.0.1:4443/storage/v1/"},
	}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "gs://backups/a/b.gpg", store.Location("a/b.gpg"))
	require.NoError(t, store.(*GCSStore).Close())
}
