// Package cmd holds the admindash command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pitabwire/admindash/internal/observability"
)

var (
	cfgFile string

	appVersion = "dev"
	appCommit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "admindash",
	Short: "Metadata-driven admin dashboard API",
	Long: `admindash serves list, detail, and form views for every service described
by a service config. Configs come from YAML directories, a backend endpoint,
or a Postgres table.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information for health responses and logs.
func SetVersion(version, commit string) {
	appVersion = version
	appCommit = commit
	observability.Version = version
	observability.Commit = commit
	rootCmd.Version = version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml",
		"path to configuration file")
}
