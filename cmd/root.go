// Package cmd wires the loopback command line interface
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/loopback/cmd/config"
	"github.com/tphakala/loopback/cmd/devices"
	"github.com/tphakala/loopback/cmd/measure"
	"github.com/tphakala/loopback/internal/buildinfo"
	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/logging"
)

// globalFlags are the persistent flags shared by every subcommand
type globalFlags struct {
	configPath    string
	debug         bool
	metricsListen string
}

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(build *buildinfo.Context, settings *conf.Settings) *cobra.Command {
	var flags globalFlags
	var closeLog func() error

	rootCmd := &cobra.Command{
		Use:           "loopback",
		Short:         "Audio round-trip latency measurement",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&flags.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		measure.Command(settings),
		devices.Command(),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(flags.configPath)
		if err != nil {
			return err
		}
		*settings = *loaded

		// Command-line flags take precedence over the config file
		if flags.debug {
			settings.Debug = true
			settings.Log.Level = "debug"
		}
		if flags.metricsListen != "" {
			settings.Metrics.Enabled = true
			settings.Metrics.Listen = flags.metricsListen
		}

		closeLog, err = initialize(settings, build)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	}

	return rootCmd
}

// initialize sets up logging and telemetry from the loaded settings
func initialize(settings *conf.Settings, build *buildinfo.Context) (func() error, error) {
	lvl, err := logging.ParseLevel(settings.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(lvl)

	var closeLog func() error
	if settings.Log.File != "" {
		w, err := logging.OpenRotatingFile(settings.Log.File, logging.RotationConfig{
			Rotation:  settings.Log.Rotation,
			MaxSizeMB: settings.Log.MaxSizeMB,
		})
		if err != nil {
			return nil, errors.New(err).
				Component("cmd").
				Category(errors.CategoryConfiguration).
				Context("operation", "open_log_file").
				Context("path", settings.Log.File).
				Build()
		}
		// JSON records go to the file, console output stays on stderr
		logging.SetOutput(w, os.Stderr)
		closeLog = w.Close
	}

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, build.GetVersion()); err != nil {
		return closeLog, err
	}

	logging.Info("loopback starting",
		"version", build.GetVersion(),
		"build_date", build.GetBuildDate(),
		"backend", settings.Audio.Backend)
	return closeLog, nil
}
