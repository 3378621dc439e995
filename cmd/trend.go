package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/pkg/query"
)

var (
	trendSession int64
	trendUnit    int
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show stored traffic volume over time",
	Long: `Bucket stored packets into fixed intervals and print one row per
interval. Quiet intervals between the first and last packet are shown with
zero counts.`,
	Example: `  netlens trend --session 3
  netlens trend --session 3 --unit 60`,
	RunE: runTrend,
}

func init() {
	trendCmd.Flags().Int64VarP(&trendSession, "session", "s", 0,
		"Restrict to one session (0 = all)")
	trendCmd.Flags().IntVarP(&trendUnit, "unit", "u", 1,
		"Bucket size in seconds")
}

func runTrend(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := query.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer eng.Close()

	trend, err := eng.TrafficTrend(cmd.Context(), trendSession, trendUnit)
	if err != nil {
		return err
	}
	if len(trend) == 0 {
		fmt.Println("No packets recorded")
		return nil
	}

	var maxPackets int64
	for _, p := range trend {
		if p.Packets > maxPackets {
			maxPackets = p.Packets
		}
	}

	fmt.Printf("%-20s %10s %12s\n", "TIME", "PACKETS", "BYTES")
	for _, p := range trend {
		bar := ""
		if maxPackets > 0 {
			bar = strings.Repeat("#", int(p.Packets*40/maxPackets))
		}
		ts := time.Unix(int64(p.Start), 0).Format("2006-01-02 15:04:05")
		fmt.Printf("%-20s %10d %12d %s\n", ts, p.Packets, p.Bytes, bar)
	}
	return nil
}
