// Package cli implements the backscroll command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbrandal/backscroll/internal/config"
	"github.com/tbrandal/backscroll/internal/logging"
)

type rootFlags struct {
	configFile string
	logLevel   string
	channelID  string
}

// Execute runs the CLI.
func Execute(version, commit, date string) error {
	return newRootCmd(buildVersion(version, commit, date)).Execute()
}

// buildVersion renders the goreleaser-injected build metadata for --version.
func buildVersion(version, commit, date string) string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}

func newRootCmd(version string) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "backscroll",
		Short:         "Scrollback client for channel message history",
		Long:          "backscroll opens a channel's message history in the terminal,\nwith infinite scroll in both directions and live updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&flags.channelID, "channel", "c", "general", "Channel to open")

	cmd.AddCommand(
		newSeedCmd(flags),
	)
	return cmd
}

// loadConfig applies the flag overrides on top of the loader's
// defaults < file < env precedence.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	loader := config.NewLoader()
	if flags.configFile != "" {
		loader.SetConfigFile(flags.configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, nil
}
