package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"db-backup/internal/application"
	"db-backup/internal/config"
	"db-backup/internal/errors"
)

var (
	cfgFile string
	envFile string

	// Output flags
	verbose bool
	quiet   bool
	theme   string

	loader = config.NewLoader(viper.New())
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "db-backup",
	Short: "Export a table slice to CSV, encrypt it and upload it to object storage",
	Long: `db-backup exports the rows of one table whose date column falls in a
time range, writes them to a local CSV file, encrypts the file with a
passphrase (OpenPGP, .gpg) and uploads the encrypted file to an S3-compatible,
GCS, Azure Blob or local object store.

Configuration is read from defaults, then .db-backup.yaml, then DB_BACKUP_*
environment variables (a .env file is loaded first), then flags.

Examples:
  # Back up yesterday's rows of the transactions table
  db-backup --table transactions --db-type postgresql --host db.internal --user backup --database shop

  # Explicit range, MinIO endpoint, keep the local files
  db-backup --config prod.yaml --start 2025-01-01 --end 2025-02-01 \
            --s3-endpoint http://minio:9000 --keep-local

  # List uploaded backups
  db-backup list --key-prefix backups/transactions/`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// application errors have already been reported with hints
		if errors.GetErrorType(err) == errors.ErrorTypeUnknown {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./.db-backup.yaml or $HOME/.db-backup.yaml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment (empty to disable)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only print failures and the summary")
	pf.StringVar(&theme, "theme", "dark", "color theme (dark, light, plain)")
	pf.String("log-level", "", "log level (quiet, normal, verbose, debug)")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("log-file", "", "also write logs to this file")

	// Storage flags are shared by the backup and the store commands
	pf.String("provider", "", "object store provider (s3, gcs, azure, local)")
	pf.String("bucket", "", "bucket or container name")
	pf.String("region", "", "bucket region")
	pf.String("prefix", "", "object key prefix pattern ({table}, {date}, {datetime})")
	pf.String("s3-endpoint", "", "S3-compatible endpoint URL (e.g. MinIO)")
	pf.String("local-path", "", "base directory of the local store")

	f := rootCmd.Flags()
	f.String("db-type", "", "database type (postgresql, mysql)")
	f.String("host", "", "database host")
	f.Int("port", 0, "database port")
	f.String("user", "", "database username")
	f.String("database", "", "database name")
	f.String("table", "", "table to export")
	f.String("date-column", "", "date/timestamp column used for the range filter")
	f.String("start", "", "range start, inclusive (today, yesterday, now, YYYY-MM-DD, YYYY-MM-DDTHH:MM:SS)")
	f.String("end", "", "range end, exclusive")
	f.String("where", "", "additional SQL filter ANDed to the range")
	f.Int("chunk-size", 0, "rows fetched per batch")
	f.String("cipher", "", "symmetric cipher (AES256, AES192, AES128, CAST5, 3DES)")
	f.String("temp-dir", "", "directory for the local CSV and .gpg files")
	f.Bool("keep-local", false, "keep local files after a successful upload")
	f.String("compression", "", "compress the CSV before encryption (none, gzip, zstd, lz4)")
	f.String("filename-pattern", "", "CSV file name pattern ({table}, {start}, {end}, {datetime}, {date})")

	bindFlags(pf, map[string]string{
		"logging.level":           "log-level",
		"logging.format":          "log-format",
		"logging.file":            "log-file",
		"storage.provider":        "provider",
		"storage.bucket":          "bucket",
		"storage.region":          "region",
		"storage.prefix":          "prefix",
		"storage.s3.endpoint":     "s3-endpoint",
		"storage.local.base_path": "local-path",
	})
	bindFlags(f, map[string]string{
		"database.type":           "db-type",
		"database.host":           "host",
		"database.port":           "port",
		"database.username":       "user",
		"database.database":       "database",
		"query.table":             "table",
		"query.date_column":       "date-column",
		"query.start":             "start",
		"query.end":               "end",
		"query.where":             "where",
		"query.chunk_size":        "chunk-size",
		"encryption.cipher":       "cipher",
		"output.temp_dir":         "temp-dir",
		"output.keep_local":       "keep-local",
		"output.compression":      "compression",
		"output.filename_pattern": "filename-pattern",
	})

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// bindFlags binds flags to config keys; a flag only overrides when it is set
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := loader.Viper().BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// loadApplication resolves the configuration and builds the application
func loadApplication(cmd *cobra.Command) (*application.Application, error) {
	loader.SetEnvFile(envFile)
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		appErr := errors.NewConfigurationError("failed to load configuration", err).
			WithUserMessage(err.Error())
		fmt.Fprintf(os.Stderr, "Error: %s\n", errors.FormatUserError(appErr))
		return nil, appErr
	}

	switch {
	case verbose:
		cfg.Logging.Level = "verbose"
	case quiet:
		cfg.Logging.Level = "quiet"
	}

	app, err := application.NewApplication(cfg, application.Options{
		In:    cmd.InOrStdin(),
		Out:   cmd.OutOrStdout(),
		Theme: theme,
		Quiet: quiet,
	})
	if err != nil {
		return nil, err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		app.GetLogger().WithField("config_file", used).Debug("Using config file")
	}
	return app, nil
}

// runBackup is the main execution function for the CLI
func runBackup(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	_, err = app.Run(cmd.Context())
	return err
}
