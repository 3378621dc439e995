package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/internal/app"
	"github.com/netlens/netlens/pkg/model"
)

var (
	captureInterface string
	captureBPF       string
	captureName      string
	captureFile      string
	captureDuration  time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture packets from an interface or replay a pcap file",
	Long: `Start a capture session. Packets are aggregated in memory and written
to SQLite in batches. The session ends on Ctrl-C, after --duration, or when
the replayed file is exhausted.`,
	Example: `  sudo netlens capture -i eth0
  sudo netlens capture -i eth0 -f "udp port 53" --duration 30s
  netlens capture --file trace.pcap --name office-trace`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureInterface, "interface", "i", "",
		"Network interface to capture from")
	captureCmd.Flags().StringVarP(&captureBPF, "bpf", "f", "",
		"BPF filter expression")
	captureCmd.Flags().StringVarP(&captureName, "name", "n", "",
		"Session name (default: timestamped)")
	captureCmd.Flags().StringVar(&captureFile, "file", "",
		"Replay a pcap file instead of live capture")
	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 0,
		"Stop after this long (0 = until interrupted)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	analyzer, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	if captureFile != "" {
		sess, err := analyzer.ReplayFile(captureName, captureFile, captureBPF)
		if err != nil {
			return err
		}
		printSessionSummary(analyzer, sess)
		return nil
	}

	sess, err := analyzer.StartCapture(captureName, captureInterface, captureBPF)
	if err != nil {
		return err
	}
	fmt.Printf("Capturing session %d (%s), Ctrl-C to stop\n", sess.ID, sess.Name)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if captureDuration > 0 {
		select {
		case <-sig:
		case <-time.After(captureDuration):
		}
	} else {
		<-sig
	}

	sess, err = analyzer.StopCapture()
	if err != nil {
		return err
	}
	printSessionSummary(analyzer, sess)
	return nil
}

func printSessionSummary(analyzer *app.Analyzer, sess *model.Session) {
	snap := analyzer.Engine().CurrentStats()

	fmt.Printf("\nSession %d (%s)\n", sess.ID, sess.Name)
	fmt.Printf("  Duration:  %.1fs\n", sess.EndTime-sess.StartTime)
	fmt.Printf("  Packets:   %d\n", sess.PacketCount)
	fmt.Printf("  Bytes:     %d\n", sess.TotalBytes)
	if snap.Queue.Dropped > 0 {
		fmt.Printf("  Dropped:   %d (queue full)\n", snap.Queue.Dropped)
	}
	if snap.Queue.LostRecords > 0 {
		fmt.Printf("  Lost:      %d (failed batches)\n", snap.Queue.LostRecords)
	}
	if snap.Anomalies > 0 {
		fmt.Printf("  Anomalies: %d\n", snap.Anomalies)
	}

	if len(snap.ProtoPackets) > 0 {
		fmt.Println("  Protocols:")
		for _, proto := range sortedKeys(snap.ProtoPackets) {
			fmt.Printf("    %-8s %d packets, %d bytes\n",
				proto, snap.ProtoPackets[proto], snap.ProtoBytes[proto])
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
