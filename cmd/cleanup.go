package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/pkg/store/sqlite"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stored packets and sessions older than the retention window",
	Example: `  netlens cleanup
  netlens cleanup --days 7`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0,
		"Retention in days (default: storage.retention_days from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.Storage.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("no retention window: set --days or storage.retention_days")
	}

	st, err := sqlite.New(sqlite.Config{Path: cfg.Storage.Path, WAL: true})
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.CleanupOlderThan(days)
	if err != nil {
		return err
	}
	log.Info("cleanup finished", "rows_deleted", n, "retention_days", days)
	fmt.Printf("Deleted %d rows older than %d days\n", n, days)
	return nil
}
