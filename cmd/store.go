package cmd

import (
	"github.com/spf13/cobra"
)

var (
	listPrefix   string
	downloadPath string
	decryptPath  string
	assumeYes    bool
	prunePrefix  string
	pruneDryRun  bool
)

// listCmd lists uploaded backups
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded backups",
	Long: `List the objects stored under a key prefix of the configured bucket.

Examples:
  # List everything under backups/
  db-backup list

  # List one table's backups on a local store
  db-backup list --provider local --local-path ./backup_store --key-prefix backups/orders/`,
	Args: cobra.NoArgs,
	RunE: runList,
}

// deleteCmd removes one backup
var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an uploaded backup",
	Long: `Delete one object from the configured bucket. The key is the full object
key as printed by "db-backup list".

Examples:
  db-backup delete backups/orders/2025-01-02/orders_20250101_000000_20250102_000000.csv.gpg

  # Skip the confirmation prompt
  db-backup delete --yes backups/orders/2025-01-02/orders.csv.gpg`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

// pruneCmd applies the retention policy
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups outside the retention policy",
	Long: `Apply the retention policy to the objects under a key prefix. The newest
backup is always kept. An object survives when any rule keeps it:

  --max-backups   the N most recent
  --max-age       everything newer than the duration
  --keep-daily    the newest of each of the last N days (likewise weekly, monthly)

Examples:
  # Show what a 30 day policy would delete
  db-backup prune --max-age 720h --dry-run

  # Keep 7 dailies and 4 weeklies for one table without prompting
  db-backup prune --key-prefix backups/orders/ --keep-daily 7 --keep-weekly 4 --yes`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

// downloadCmd fetches one backup
var downloadCmd = &cobra.Command{
	Use:   "download <key>",
	Short: "Download an uploaded backup",
	Long: `Download one object to a local file. The file stays encrypted; use
"db-backup decrypt" to verify it.

Examples:
  db-backup download backups/orders/2025-01-02/orders.csv.gpg --output /tmp/orders.csv.gpg`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

// decryptCmd decrypts a local .gpg file
var decryptCmd = &cobra.Command{
	Use:   "decrypt <file.gpg>",
	Short: "Decrypt a local backup file",
	Long: `Decrypt an encrypted backup with the configured passphrase
(encryption.passphrase or DB_BACKUP_ENCRYPTION_PASSPHRASE).

Examples:
  DB_BACKUP_ENCRYPTION_PASSPHRASE=secret db-backup decrypt orders.csv.gpg`,
	Args: cobra.ExactArgs(1),
	RunE: runDecrypt,
}

func init() {
	// --prefix is the upload key pattern; list takes a literal prefix
	listCmd.Flags().StringVar(&listPrefix, "key-prefix", "backups/", "key prefix to list")
	downloadCmd.Flags().StringVarP(&downloadPath, "output", "o", "", "local file path (default: the key's base name)")
	decryptCmd.Flags().StringVarP(&decryptPath, "output", "o", "", "output path (default: input without .gpg)")
	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	pf := pruneCmd.Flags()
	pf.StringVar(&prunePrefix, "key-prefix", "backups/", "key prefix to prune")
	pf.BoolVar(&pruneDryRun, "dry-run", false, "only list what would be deleted")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	pf.Int("max-backups", 0, "keep the N most recent backups")
	pf.Duration("max-age", 0, "keep backups newer than this duration (e.g. 720h)")
	pf.Int("keep-daily", 0, "keep the newest backup of each of the last N days")
	pf.Int("keep-weekly", 0, "keep the newest backup of each of the last N weeks")
	pf.Int("keep-monthly", 0, "keep the newest backup of each of the last N months")
	bindFlags(pf, map[string]string{
		"retention.max_backups":  "max-backups",
		"retention.max_age":      "max-age",
		"retention.keep_daily":   "keep-daily",
		"retention.keep_weekly":  "keep-weekly",
		"retention.keep_monthly": "keep-monthly",
	})

	rootCmd.AddCommand(listCmd, deleteCmd, pruneCmd, downloadCmd, decryptCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	_, err = app.List(cmd.Context(), listPrefix)
	return err
}

func runDelete(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	return app.Delete(cmd.Context(), args[0], assumeYes)
}

func runPrune(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	_, err = app.Prune(cmd.Context(), prunePrefix, pruneDryRun, assumeYes)
	return err
}

func runDownload(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	_, err = app.Download(cmd.Context(), args[0], downloadPath)
	return err
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	app, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	_, err = app.Decrypt(args[0], decryptPath)
	return err
}
