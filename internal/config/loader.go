package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// The config file is optional, only error if explicitly specified.
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = expandTilde(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setupViper(cfg *Config) {
	l.v.SetDefault("logging.level", cfg.Logging.Level)
	l.v.SetDefault("logging.format", cfg.Logging.Format)
	l.v.SetDefault("database.path", cfg.Database.Path)
	l.v.SetDefault("gateway.url", cfg.Gateway.URL)
	l.v.SetDefault("gateway.dial_timeout", cfg.Gateway.DialTimeout)
	l.v.SetDefault("gateway.reconnect_interval", cfg.Gateway.ReconnectInterval)
	l.v.SetDefault("timeline.initial_page_size", cfg.Timeline.InitialPageSize)
	l.v.SetDefault("timeline.page_size", cfg.Timeline.PageSize)
	l.v.SetDefault("timeline.group_gap", cfg.Timeline.GroupGap)
	l.v.SetDefault("timeline.settle_delay", cfg.Timeline.SettleDelay)
	l.v.SetDefault("timeline.read_threshold_px", cfg.Timeline.ReadThresholdPx)
	l.v.SetDefault("tui.theme", cfg.TUI.Theme)
	l.v.SetDefault("tui.self_id", cfg.TUI.SelfID)

	l.v.SetEnvPrefix("BACKSCROLL")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "backscroll"))
	}
	l.v.AddConfigPath(".")
	return l.v.ReadInConfig()
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
