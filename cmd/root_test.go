package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup/internal/errors"
)

// resetFlags restores every flag so commands can run repeatedly in one process
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "2025-01-02", "abc123", "")

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "db-backup version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
	assert.Contains(t, out, "Go version: go")
}

func TestConfigCommand_Sample(t *testing.T) {
	out, err := executeCommand(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "# db-backup configuration")
	assert.Contains(t, out, "database:")
	assert.Contains(t, out, "storage:")
}

func TestConfigCommand_Env(t *testing.T) {
	out, err := executeCommand(t, "config", "--env")
	require.NoError(t, err)
	assert.Contains(t, out, "DB_BACKUP_DATABASE_HOST\n")
	assert.Contains(t, out, "DB_BACKUP_ENCRYPTION_PASSPHRASE\n")
}

func TestConfigCommand_Output(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "db-backup.yaml")
	out, err := executeCommand(t, "config", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Sample configuration written to "+path)
	assert.FileExists(t, path)
}

func TestConfigCommand_ShowMasksSecrets(t *testing.T) {
	t.Setenv("DB_BACKUP_DATABASE_PASSWORD", "hunter2")
	t.Setenv("DB_BACKUP_ENCRYPTION_PASSPHRASE", "top-secret")

	out, err := executeCommand(t, "config", "--show", "--bucket", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "bucket: nightly")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "top-secret")
}

func TestListCommand_EmptyLocalStore(t *testing.T) {
	base := t.TempDir()
	out, err := executeCommand(t, "list", "--provider", "local", "--local-path", base, "--theme", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups found")
}

func TestBackup_InvalidConfiguration(t *testing.T) {
	// no table and no passphrase
	_, err := executeCommand(t, "--provider", "local", "--local-path", t.TempDir(), "--quiet")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration), err.Error())
}

func TestVerboseAndQuietAreExclusive(t *testing.T) {
	_, err := executeCommand(t, "version", "--verbose", "--quiet")
	assert.Error(t, err)
}

func TestPruneCommand(t *testing.T) {
	base := t.TempDir()

	_, err := executeCommand(t, "prune", "--provider", "local", "--local-path", base, "--quiet")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	out, err := executeCommand(t, "prune", "--provider", "local", "--local-path", base,
		"--max-age", "720h", "--dry-run", "--theme", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to prune")
}
