package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/pkg/store/sqlite"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored capture sessions",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := sqlite.New(sqlite.Config{Path: cfg.Storage.Path, ReadOnly: true})
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	fmt.Printf("%-5s %-28s %-20s %-10s %12s %14s\n",
		"ID", "NAME", "STARTED", "DURATION", "PACKETS", "BYTES")
	for _, s := range sessions {
		started := time.Unix(int64(s.StartTime), 0).Format("2006-01-02 15:04:05")
		duration := "running"
		if !s.Active() {
			duration = fmt.Sprintf("%.1fs", s.EndTime-s.StartTime)
		}
		fmt.Printf("%-5d %-28s %-20s %-10s %12d %14d\n",
			s.ID, s.Name, started, duration, s.PacketCount, s.TotalBytes)
	}
	return nil
}
