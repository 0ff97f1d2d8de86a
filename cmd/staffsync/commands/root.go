// Package commands implements the staffsync CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/staffsync/config"
	"github.com/teranos/staffsync/logger"
)

var (
	cfgFile  string
	jsonLogs bool

	// cfg is loaded once in the persistent pre-run and shared by all
	// subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "staffsync",
	Short: "Employee lifecycle sync between an HR system and a directory",
	Long: `staffsync schedules and executes employee lifecycle operations:
pre-hire directory provisioning ahead of the join date, and disabling or
deleting directory principals on the exit date. Jobs are persisted in a
local SQLite database and survive restarts.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFromFile(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		return logger.Initialize(jsonLogs || cfg.Log.JSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to staffsync.toml (default: search upward from cwd)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// Execute runs the CLI.
func Execute() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
