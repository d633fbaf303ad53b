package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. DB_BACKUP_DATABASE_HOST
const EnvPrefix = "DB_BACKUP"

// DefaultConfigName is the config file looked up in the working and home directories
const DefaultConfigName = ".db-backup"

// Loader assembles a Config from defaults, an optional config file, a .env
// file, the environment and any flags already bound to its viper instance.
type Loader struct {
	viper   *viper.Viper
	envFile string
}

// NewLoader creates a loader on top of v; nil gets a fresh viper instance
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{viper: v, envFile: ".env"}
}

// SetEnvFile changes the dotenv file; an empty path disables dotenv loading
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Viper exposes the underlying instance so flags can be bound to it
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// Load reads configPath (or searches the default locations) and returns the
// resolved configuration. A missing default config file is not an error.
func (l *Loader) Load(configPath string) (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	l.setupViper(configPath)
	l.setDefaults()

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the config file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// loadEnvFile loads .env without overriding variables already set
func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", l.envFile, err)
	}
	return nil
}

func (l *Loader) setupViper(configPath string) {
	if configPath != "" {
		l.viper.SetConfigFile(configPath)
	} else {
		l.viper.SetConfigName(DefaultConfigName)
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.viper.AddConfigPath(home)
		}
	}

	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
}

// setDefaults registers every key so that AutomaticEnv can populate it on Unmarshal
func (l *Loader) setDefaults() {
	for key, value := range defaultSettings() {
		l.viper.SetDefault(key, value)
	}
}

func defaultSettings() map[string]interface{} {
	d := NewDefaultConfig()
	return map[string]interface{}{
		"database.type":     d.Database.Type,
		"database.host":     d.Database.Host,
		"database.port":     0,
		"database.username": "",
		"database.password": "",
		"database.database": "",
		"database.sslmode":  "",
		"database.timeout":  d.Database.Timeout,

		"query.table":       "",
		"query.date_column": d.Query.DateColumn,
		"query.start":       d.Query.Start,
		"query.end":         d.Query.End,
		"query.where":       "",
		"query.chunk_size":  d.Query.ChunkSize,

		"encryption.passphrase": "",
		"encryption.cipher":     d.Encryption.Cipher,

		"storage.provider":             d.Storage.Provider,
		"storage.bucket":               d.Storage.Bucket,
		"storage.region":               d.Storage.Region,
		"storage.prefix":               d.Storage.Prefix,
		"storage.s3.endpoint":          "",
		"storage.s3.access_key":        "",
		"storage.s3.secret_key":        "",
		"storage.s3.session_token":     "",
		"storage.s3.force_path_style":  false,
		"storage.s3.part_size":         d.Storage.S3.PartSize,
		"storage.gcs.project_id":       "",
		"storage.gcs.credentials_path": "",
		"storage.gcs.endpoint":         "",
		"storage.azure.account_name":   "",
		"storage.azure.account_key":    "",
		"storage.azure.endpoint":       "",
		"storage.local.base_path":      d.Storage.Local.BasePath,

		"output.temp_dir":         d.Output.TempDir,
		"output.keep_local":       false,
		"output.filename_pattern": d.Output.FilenamePattern,
		"output.compression":      d.Output.Compression,

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,
		"logging.file":   "",

		"metrics.pushgateway_url": "",
		"metrics.job_name":        d.Metrics.JobName,
		"metrics.textfile_path":   "",

		"retention.max_backups":  0,
		"retention.max_age":      time.Duration(0),
		"retention.keep_daily":   0,
		"retention.keep_weekly":  0,
		"retention.keep_monthly": 0,
	}
}

// EnvironmentVariables lists every supported environment variable
func EnvironmentVariables() []string {
	var vars []string
	for key := range defaultSettings() {
		vars = append(vars, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	sort.Strings(vars)
	return vars
}

// SampleYAML renders a sample configuration file with the defaults filled in
func SampleYAML() ([]byte, error) {
	sample := NewDefaultConfig()
	sample.Database.Username = "backup"
	sample.Database.Password = "change-me"
	sample.Database.Database = "your_database"
	sample.Query.Table = "transactions"
	sample.Encryption.Passphrase = "change-me"

	data, err := yaml.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample configuration: %w", err)
	}

	header := "# db-backup configuration\n" +
		"# Every key can be overridden with " + EnvPrefix + "_<SECTION>_<KEY>, e.g. " +
		EnvPrefix + "_DATABASE_PASSWORD.\n" +
		"# Date expressions: today, yesterday, now, YYYY-MM-DD, YYYY-MM-DDTHH:MM:SS\n\n"
	return append([]byte(header), data...), nil
}

// WriteSample writes SampleYAML to path, creating parent directories
func WriteSample(path string) error {
	data, err := SampleYAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
