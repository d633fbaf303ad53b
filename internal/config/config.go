package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"db-backup/internal/database"
	"db-backup/internal/encryption"
	"db-backup/internal/errors"
	"db-backup/internal/export"
	"db-backup/internal/logging"
	"db-backup/internal/metrics"
	"db-backup/internal/retention"
	"db-backup/internal/storage"
)

// Config is the resolved configuration of one backup run. It is assembled
// once (defaults, config file, environment, flags) and not mutated afterwards.
type Config struct {
	Database   database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Query      QueryConfig             `mapstructure:"query" yaml:"query"`
	Encryption EncryptionConfig        `mapstructure:"encryption" yaml:"encryption"`
	Storage    storage.Config          `mapstructure:"storage" yaml:"storage"`
	Output     OutputConfig            `mapstructure:"output" yaml:"output"`
	Logging    LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Metrics    metrics.Config          `mapstructure:"metrics" yaml:"metrics"`
	Retention  retention.Policy        `mapstructure:"retention" yaml:"retention"`
}

// QueryConfig selects the table slice to export
type QueryConfig struct {
	Table      string `mapstructure:"table" yaml:"table"`
	DateColumn string `mapstructure:"date_column" yaml:"date_column"`
	Start      string `mapstructure:"start" yaml:"start"`
	End        string `mapstructure:"end" yaml:"end"`
	Where      string `mapstructure:"where" yaml:"where"`
	ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// EncryptionConfig holds the symmetric OpenPGP settings
type EncryptionConfig struct {
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
	Cipher     string `mapstructure:"cipher" yaml:"cipher"`
}

// OutputConfig controls local artifacts
type OutputConfig struct {
	TempDir         string `mapstructure:"temp_dir" yaml:"temp_dir"`
	KeepLocal       bool   `mapstructure:"keep_local" yaml:"keep_local"`
	FilenamePattern string `mapstructure:"filename_pattern" yaml:"filename_pattern"`
	Compression     string `mapstructure:"compression" yaml:"compression"`
}

// LoggingConfig controls the logrus logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Defaults
const (
	DefaultDateColumn      = "created_at"
	DefaultStart           = "yesterday"
	DefaultEnd             = "today"
	DefaultChunkSize       = 10000
	DefaultTempDir         = "./temp_backups"
	DefaultFilenamePattern = "{table}_{start}_{end}"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// NewDefaultConfig returns a configuration with every default applied
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()

	if c.Query.DateColumn == "" {
		c.Query.DateColumn = DefaultDateColumn
	}
	if c.Query.Start == "" {
		c.Query.Start = DefaultStart
	}
	if c.Query.End == "" {
		c.Query.End = DefaultEnd
	}
	if c.Query.ChunkSize == 0 {
		c.Query.ChunkSize = DefaultChunkSize
	}

	if c.Encryption.Cipher == "" {
		c.Encryption.Cipher = string(encryption.DefaultCipher)
	}

	c.Storage.SetDefaults()

	if c.Output.TempDir == "" {
		c.Output.TempDir = DefaultTempDir
	}
	if c.Output.FilenamePattern == "" {
		c.Output.FilenamePattern = DefaultFilenamePattern
	}
	if c.Output.Compression == "" {
		c.Output.Compression = string(export.CompressionNone)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Metrics.SetDefaults()
}

// Validate checks the whole configuration and reports every problem at once
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := c.Database.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Query.validate(time.Now()); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Encryption.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Storage.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage: %w", err))
	}
	if err := c.Output.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("logging: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("metrics: %w", err))
	}
	if err := c.Retention.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("retention: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.NewConfigurationError("invalid configuration", err).
			WithUserMessage(err.Error())
	}
	return nil
}

func (q *QueryConfig) validate(now time.Time) error {
	var errs []string

	if q.Table == "" {
		errs = append(errs, "table is required")
	} else if !identifierPattern.MatchString(q.Table) {
		errs = append(errs, fmt.Sprintf("table %q is not a valid identifier", q.Table))
	}
	if q.DateColumn == "" {
		errs = append(errs, "date column is required")
	} else if !identifierPattern.MatchString(q.DateColumn) {
		errs = append(errs, fmt.Sprintf("date column %q is not a valid identifier", q.DateColumn))
	}
	if q.ChunkSize <= 0 {
		errs = append(errs, "chunk size must be positive")
	}
	if _, _, err := q.Range(now); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("query: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Range resolves the start and end expressions against now
func (q *QueryConfig) Range(now time.Time) (time.Time, time.Time, error) {
	start, err := ParseDateTime(q.Start, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := ParseDateTime(q.End, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s",
			start.Format(displayTimeFormat), end.Format(displayTimeFormat))
	}
	return start, end, nil
}

func (e *EncryptionConfig) validate() error {
	var errs []string
	if e.Passphrase == "" {
		errs = append(errs, "passphrase is required")
	}
	if _, err := encryption.ParseCipher(e.Cipher); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("encryption: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (o *OutputConfig) validate() error {
	var errs []string
	if o.TempDir == "" {
		errs = append(errs, "temp dir is required")
	}
	if err := checkPlaceholders(o.FilenamePattern, filenamePlaceholders); err != nil {
		errs = append(errs, "filename pattern: "+err.Error())
	}
	if _, err := export.ParseCompression(o.Compression); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("output: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ExportSpec builds the export spec for a run started at now
func (c *Config) ExportSpec(now time.Time) (database.ExportSpec, error) {
	start, end, err := c.Query.Range(now)
	if err != nil {
		return database.ExportSpec{}, errors.NewConfigurationError("invalid date range", err).
			WithUserMessage(err.Error())
	}

	spec := database.ExportSpec{
		Table:       c.Query.Table,
		DateColumn:  c.Query.DateColumn,
		Start:       start,
		End:         end,
		ExtraFilter: strings.TrimSpace(c.Query.Where),
		BatchSize:   c.Query.ChunkSize,
	}
	if err := spec.Validate(); err != nil {
		return database.ExportSpec{}, errors.NewConfigurationError("invalid export spec", err)
	}
	return spec, nil
}

// CipherAlgorithm returns the parsed cipher
func (c *Config) CipherAlgorithm() encryption.CipherAlgorithm {
	cipher, err := encryption.ParseCipher(c.Encryption.Cipher)
	if err != nil {
		return encryption.DefaultCipher
	}
	return cipher
}

// CompressionKind returns the parsed export compression
func (c *Config) CompressionKind() export.Compression {
	kind, err := export.ParseCompression(c.Output.Compression)
	if err != nil {
		return export.CompressionNone
	}
	return kind
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		Format:  c.Logging.Format,
		LogFile: c.Logging.File,
	}
}

// Redacted returns a copy with secrets masked, suitable for printing
func (c Config) Redacted() Config {
	if c.Database.Password != "" {
		c.Database.Password = "***"
	}
	if c.Encryption.Passphrase != "" {
		c.Encryption.Passphrase = "***"
	}
	c.Storage = c.Storage.Redacted()
	return c
}
