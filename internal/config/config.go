// Package config loads the application configuration from a YAML file,
// layering the file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "500ms" or "2s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CaptureConfig controls the live capture source.
type CaptureConfig struct {
	Interface   string   `yaml:"interface"`
	BPF         string   `yaml:"bpf"`
	SnapLen     int32    `yaml:"snaplen"`
	Promiscuous bool     `yaml:"promiscuous"`
	// PollInterval is the pcap read timeout. The stop flag is checked at
	// least once per interval, bounding shutdown latency.
	PollInterval Duration `yaml:"poll_interval"`
}

// EngineConfig controls the in-memory statistics engine.
type EngineConfig struct {
	WindowSeconds     int      `yaml:"window_seconds"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
	QueueSize         int      `yaml:"queue_size"`
	AnomalyRules      []string `yaml:"anomaly_rules"`
}

// WriterConfig controls the batch writer.
type WriterConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	AutoCleanup   bool   `yaml:"auto_cleanup"`
}

// APIConfig controls the HTTP read API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration for the whole application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Engine  EngineConfig  `yaml:"engine"`
	Writer  WriterConfig  `yaml:"writer"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			SnapLen:      65536,
			Promiscuous:  true,
			PollInterval: Duration(500 * time.Millisecond),
		},
		Engine: EngineConfig{
			WindowSeconds:     60,
			ConnectionTimeout: Duration(5 * time.Minute),
			QueueSize:         1000,
			AnomalyRules: []string{
				`length > 9000`,
				`src_port in [1234, 31337, 12345, 54321] or dst_port in [1234, 31337, 12345, 54321]`,
			},
		},
		Writer: WriterConfig{
			BatchSize:     100,
			FlushInterval: Duration(time.Second),
		},
		Storage: StorageConfig{
			Path:          "data/netlens.db",
			RetentionDays: 30,
			AutoCleanup:   false,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8471",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration from a YAML file. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Engine.WindowSeconds <= 0 {
		return fmt.Errorf("engine.window_seconds must be positive, got %d", c.Engine.WindowSeconds)
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize)
	}
	if c.Writer.BatchSize <= 0 {
		return fmt.Errorf("writer.batch_size must be positive, got %d", c.Writer.BatchSize)
	}
	if c.Writer.FlushInterval <= 0 {
		return fmt.Errorf("writer.flush_interval must be positive")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative, got %d", c.Storage.RetentionDays)
	}
	return nil
}
