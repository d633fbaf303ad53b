package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"db-backup/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = runtime.Version()
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	if gv != "" && gv != "unknown" {
		goVersion = gv
	}
}

var (
	configOutput string
	configEnv    bool
	configShow   bool
)

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for db-backup",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "db-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand
func createConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Print or write a sample configuration file that can be used with the
--config flag, list the supported environment variables, or show the
configuration resolved from the current file, environment and flags with
secrets masked.

Examples:
  # Print a sample config
  db-backup config > .db-backup.yaml

  # Write it to a file with 0600 permissions
  db-backup config --output /etc/db-backup/config.yaml

  # List environment variables
  db-backup config --env

  # Show the effective configuration
  db-backup config --show --config prod.yaml`,
		Args: cobra.NoArgs,
		RunE: runConfig,
	}
	cmd.Flags().StringVarP(&configOutput, "output", "o", "", "write the sample to this file instead of stdout")
	cmd.Flags().BoolVar(&configEnv, "env", false, "list supported environment variables")
	cmd.Flags().BoolVar(&configShow, "show", false, "print the resolved configuration with secrets masked")
	cmd.MarkFlagsMutuallyExclusive("output", "env", "show")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	switch {
	case configEnv:
		for _, name := range config.EnvironmentVariables() {
			fmt.Fprintln(out, name)
		}
		return nil

	case configShow:
		loader.SetEnvFile(envFile)
		cfg, err := loader.Load(cfgFile)
		if err != nil {
			return err
		}
		if used := loader.ConfigFileUsed(); used != "" {
			fmt.Fprintf(out, "# config file: %s\n", used)
		}
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		_, err = out.Write(data)
		return err

	case configOutput != "":
		if err := config.WriteSample(configOutput); err != nil {
			return err
		}
		fmt.Fprintf(out, "Sample configuration written to %s\n", configOutput)
		return nil
	}

	data, err := config.SampleYAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
