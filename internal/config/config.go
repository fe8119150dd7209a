// Package config handles backscroll configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Database settings for the local store
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Gateway settings for the remote source
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`

	// Timeline tuning
	Timeline TimelineConfig `yaml:"timeline" mapstructure:"timeline"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// GatewayConfig contains remote gateway settings. An empty URL means the
// client runs purely against the local store.
type GatewayConfig struct {
	URL               string        `yaml:"url" mapstructure:"url"`
	DialTimeout       time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// TimelineConfig tunes the pagination and display engine.
type TimelineConfig struct {
	// InitialPageSize is the activation window size.
	InitialPageSize int `yaml:"initial_page_size" mapstructure:"initial_page_size"`

	// PageSize is the older/newer extension window size.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// GroupGap is the pause that breaks message grouping.
	GroupGap time.Duration `yaml:"group_gap" mapstructure:"group_gap"`

	// SettleDelay suppresses edge fetches after a jump.
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`

	// ReadThresholdPx is the near-bottom distance that allows read marking.
	ReadThresholdPx int `yaml:"read_threshold_px" mapstructure:"read_threshold_px"`
}

// TUIConfig contains presentation settings.
type TUIConfig struct {
	// Theme selects the palette (default, high-contrast).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// SelfID is the viewing user's id.
	SelfID string `yaml:"self_id" mapstructure:"self_id"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Gateway: GatewayConfig{
			DialTimeout:       5 * time.Second,
			ReconnectInterval: 2 * time.Second,
		},
		Timeline: TimelineConfig{
			InitialPageSize: 30,
			PageSize:        20,
			GroupGap:        5 * time.Minute,
			SettleDelay:     time.Second,
			ReadThresholdPx: 32,
		},
		TUI: TUIConfig{
			Theme:  "default",
			SelfID: "me",
		},
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "backscroll.db"
	}
	return filepath.Join(home, ".local", "share", "backscroll", "backscroll.db")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path required")
	}
	if c.Timeline.InitialPageSize <= 0 {
		return fmt.Errorf("timeline initial_page_size must be positive")
	}
	if c.Timeline.PageSize <= 0 {
		return fmt.Errorf("timeline page_size must be positive")
	}
	if c.Timeline.GroupGap < 0 {
		return fmt.Errorf("timeline group_gap must not be negative")
	}
	return nil
}
