package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/staffsync/db"
	"github.com/teranos/staffsync/logger"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Applies the additive schema migration: creates missing tables and
columns without touching existing data. The daemon runs this on startup;
the command exists for pre-provisioning and upgrade checks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn, logger.Logger); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "schema up to date: %s\n", cfg.Database.Path)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	rootCmd.AddCommand(dbCmd)
}
