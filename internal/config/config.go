// Package config provides configuration management for recanalyzer using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultResolverTimeout = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	ITS         ITSConfig         `mapstructure:"its"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds the two process-wide filesystem roots: the state
// directory for the persisted JSON catalogs and the output directory for
// task artifacts.
type StorageConfig struct {
	StateDir  string `mapstructure:"state_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ITSConfig holds the national traffic directory API configuration.
type ITSConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	Endpoint         string        `mapstructure:"endpoint"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ValidatePlaylist bool          `mapstructure:"validate_playlist"`
	// CacheTTL enables a short-lived resolution cache. Zero keeps
	// resolution stateless, which is the documented behaviour.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// FFmpegConfig holds ffmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = "ffmpeg" on PATH
	ProbePath  string `mapstructure:"probe_path"`  // empty = "ffprobe" on PATH
}

// DetectorConfig holds the external object-detection service configuration.
type DetectorConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// MaintenanceConfig holds the orphaned-artifact sweeper configuration.
type MaintenanceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
	// Grace is how old an uncatalogued file must be before it is removed.
	Grace time.Duration `mapstructure:"grace"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with RECANALYZER_, using underscores for nesting.
// Example: RECANALYZER_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/recanalyzer")
		v.AddConfigPath("$HOME/.recanalyzer")
	}

	v.SetEnvPrefix("RECANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyLegacyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.state_dir", "./data")
	v.SetDefault("storage.output_dir", "./data/outputs")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("its.api_key", "")
	v.SetDefault("its.endpoint", "")
	v.SetDefault("its.timeout", defaultResolverTimeout)
	v.SetDefault("its.validate_playlist", true)
	v.SetDefault("its.cache_ttl", time.Duration(0))

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("detector.endpoint", "http://127.0.0.1:8090/detect")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", "0 0 3 * * *") // daily at 3 AM, 6-field
	v.SetDefault("maintenance.grace", 24*time.Hour)
}

// applyLegacyEnv honours the environment names earlier deployments used.
// It runs after viper resolution, so a set legacy name overrides the file
// value and the RECANALYZER_-prefixed form alike.
func (c *Config) applyLegacyEnv() {
	if dir := os.Getenv("JSON_DB_STORAGE"); dir != "" {
		c.Storage.StateDir = dir
	}
	if dir := os.Getenv("TASK_OUTPUT_PATH"); dir != "" {
		c.Storage.OutputDir = dir
	}
	if key := os.Getenv("ITS_API_KEY"); key != "" {
		c.ITS.APIKey = key
	}
	if port := os.Getenv("LISTEN_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			c.Server.Port = parsed
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.StateDir == "" {
		return fmt.Errorf("storage.state_dir is required")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
