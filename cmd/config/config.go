// Package config prints the effective configuration
package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/loopback/internal/conf"
)

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration after defaults, config.yaml and LOOPBACK_* environment overrides are applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return conf.WriteYAML(cmd.OutOrStdout(), settings)
		},
	}
}
