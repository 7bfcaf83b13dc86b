package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	// Cluster log configuration
	Cluster ClusterConfig `env:"CLUSTER"`

	// Ledger configuration
	Ledger LedgerConfig `env:"LEDGER"`

	// Logging configuration
	Logging LoggingConfig `env:"LOGGING"`

	// Metrics configuration
	Metrics MetricsConfig `env:"METRICS"`
}

// ClusterConfig holds the channel and stream identifiers for the
// cluster log, the private replay channel, and the timer control stream.
type ClusterConfig struct {
	// Channel the replicated cluster log is delivered on
	LogChannel string `env:"LOG_CHANNEL" envDefault:"cluster-log"`

	// Stream id of the cluster log
	LogStreamID int32 `env:"LOG_STREAM_ID" envDefault:"100"`

	// Private channel used for archive replay, distinct from the live log
	ReplayChannel string `env:"REPLAY_CHANNEL" envDefault:"cluster-log-replay"`

	// Stream id for archive replay
	ReplayStreamID int32 `env:"REPLAY_STREAM_ID" envDefault:"101"`

	// Channel schedule/cancel timer requests are sent on
	TimerChannel string `env:"TIMER_CHANNEL" envDefault:"cluster-timer"`

	// Stream id for timer requests
	TimerStreamID int32 `env:"TIMER_STREAM_ID" envDefault:"102"`
}

// LedgerConfig holds recovery ledger storage configuration
type LedgerConfig struct {
	// Directory the recovery ledger database is stored in
	Dir string `env:"LEDGER_DIR" envDefault:"./data/ledger"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Log level: "debug", "info", "warn", "error"
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Log format: "json", "text"
	Format string `env:"LOG_FORMAT" envDefault:"json"`

	// Log file path (empty for stdout)
	Output string `env:"LOG_OUTPUT" envDefault:""`

	// Enable log rotation
	Rotation bool `env:"LOG_ROTATION" envDefault:"true"`

	// Max log file size in MB
	MaxSize int `env:"LOG_MAX_SIZE" envDefault:"100"`

	// Number of backup files to keep
	MaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"7"`

	// Max age in days
	MaxAge int `env:"LOG_MAX_AGE" envDefault:"30"`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	// Enable Prometheus metrics
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Metrics server address
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`

	// Metrics path
	Path string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load loads configuration from environment variables and command line flags
func Load() (*Config, error) {
	cfg := &Config{}

	// Load from environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Parse command line flags
	flag.StringVar(&cfg.Cluster.LogChannel, "log-channel", cfg.Cluster.LogChannel, "Cluster log channel")
	flag.StringVar(&cfg.Ledger.Dir, "ledger-dir", cfg.Ledger.Dir, "Recovery ledger directory")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "Log format (json, text)")
	flag.Parse()

	// Normalize paths
	cfg.Ledger.Dir = filepath.Clean(cfg.Ledger.Dir)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cluster.LogChannel == "" {
		return fmt.Errorf("cluster log channel cannot be empty")
	}

	if c.Cluster.ReplayChannel == "" {
		return fmt.Errorf("replay channel cannot be empty")
	}

	if c.Cluster.ReplayChannel == c.Cluster.LogChannel && c.Cluster.ReplayStreamID == c.Cluster.LogStreamID {
		return fmt.Errorf("replay channel/stream must be distinct from the live log")
	}

	if c.Cluster.TimerChannel == "" {
		return fmt.Errorf("timer channel cannot be empty")
	}

	if c.Ledger.Dir == "" {
		return fmt.Errorf("ledger directory cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
