package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/pkg/query"
)

var (
	statsSession int64
	statsTalkers int
	statsStart   float64
	statsEnd     float64
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored protocol distribution and top talkers",
	Example: `  netlens stats
  netlens stats --session 3
  netlens stats --session 3 --talkers 20`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Int64VarP(&statsSession, "session", "s", 0,
		"Restrict to one session (0 = all)")
	statsCmd.Flags().IntVar(&statsTalkers, "talkers", 10,
		"How many top talkers to show")
	statsCmd.Flags().Float64Var(&statsStart, "start", 0,
		"Only count packets at or after this unix timestamp")
	statsCmd.Flags().Float64Var(&statsEnd, "end", 0,
		"Only count packets at or before this unix timestamp")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := query.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()

	stats, err := eng.ProtocolStats(ctx, statsSession, statsStart, statsEnd)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("No packets recorded")
		return nil
	}

	fmt.Printf("%-10s %12s %14s %8s\n", "PROTOCOL", "PACKETS", "BYTES", "SHARE")
	for _, s := range stats {
		fmt.Printf("%-10s %12d %14d %7.1f%%\n", s.Protocol, s.Packets, s.Bytes, s.Percent)
	}

	talkers, err := eng.TopTalkers(ctx, statsSession, statsTalkers)
	if err != nil {
		return err
	}
	if len(talkers) > 0 {
		fmt.Printf("\n%-40s %12s %14s\n", "ADDRESS", "PACKETS", "BYTES")
		for _, t := range talkers {
			fmt.Printf("%-40s %12d %14d\n", t.Addr, t.Packets, t.Bytes)
		}
	}
	return nil
}
