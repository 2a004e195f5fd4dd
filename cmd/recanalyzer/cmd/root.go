// Package cmd implements the CLI commands for recanalyzer.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/recanalyzer/recanalyzer/internal/config"
	"github.com/recanalyzer/recanalyzer/internal/observability"
	"github.com/recanalyzer/recanalyzer/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the loaded configuration, populated before any subcommand runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "recanalyzer",
	Short:   "CCTV recording and vision analysis task service",
	Version: version.Short(),
	Long: `recanalyzer records clips from public CCTV HLS streams and runs vision
analysis over them: object detection and tracking, perspective correction,
and per-object speed estimation.

Streams are resolved against the national traffic directory by coordinate,
recorded with ffmpeg, and analysed as background tasks managed through the
REST API.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	// These flags are deliberately not bound to viper: only an explicitly
	// set flag overrides the config/env values, preserving the priority
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/recanalyzer, $HOME/.recanalyzer)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig loads the configuration and installs the default logger.
func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	overrideString(flags, "log-level", &loaded.Logging.Level)
	overrideString(flags, "log-format", &loaded.Logging.Format)
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(loaded.Logging, os.Stderr)
	observability.SetDefault(logger)

	cfg = loaded
	return nil
}

// overrideString copies a flag value into dst only when the flag was set
// explicitly on the command line.
func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if !flags.Changed(name) {
		return
	}
	value, err := flags.GetString(name)
	if err != nil {
		return
	}
	*dst = strings.ToLower(value)
}
