// Package cmd provides the CLI commands for netlens using Cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "netlens",
	Short: "Real-time network traffic statistics with SQLite persistence",
	Long: `NetLens captures packets from a network interface or pcap file,
maintains real-time traffic statistics, and persists packet records
asynchronously to SQLite in batches.

Examples:
  sudo netlens capture -i eth0                 # Capture until interrupted
  sudo netlens capture -i eth0 -f "tcp"        # With a BPF filter
  netlens capture --file trace.pcap            # Replay a pcap file
  netlens serve                                # Capture control + stats API
  netlens sessions                             # List stored sessions
  netlens stats --session 3                    # Protocol distribution
  netlens list interfaces                      # List network interfaces`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig loads the config file and installs the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(log)
	return cfg, log, nil
}
