// Package config provides configuration management for the deldupes indexing engine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Hash     HashConfig     `mapstructure:"hash"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// DatabaseConfig holds database-directory configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ScanConfig holds scan pipeline configuration.
type ScanConfig struct {
	Parallelism      int           `mapstructure:"parallelism"` // 0 = GOMAXPROCS
	JobQueueSize     int           `mapstructure:"job_queue_size"`
	ResultQueueSize  int           `mapstructure:"result_queue_size"`
	BatchMaxCount    int           `mapstructure:"batch_max_count"`
	BatchMaxInterval time.Duration `mapstructure:"batch_max_interval"`
}

// HashConfig holds hashing-policy configuration.
type HashConfig struct {
	PrefixThresholdBytes int64 `mapstructure:"prefix_threshold_bytes"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "./data/index",
		},
		Scan: ScanConfig{
			Parallelism:      0,
			JobQueueSize:     256,
			ResultQueueSize:  256,
			BatchMaxCount:    2000,
			BatchMaxInterval: time.Second,
		},
		Hash: HashConfig{
			PrefixThresholdBytes: 32 * 1024,
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			Development: false,
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DELDUPES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values in Viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Database defaults
	v.SetDefault("database.path", defaults.Database.Path)

	// Scan defaults
	v.SetDefault("scan.parallelism", defaults.Scan.Parallelism)
	v.SetDefault("scan.job_queue_size", defaults.Scan.JobQueueSize)
	v.SetDefault("scan.result_queue_size", defaults.Scan.ResultQueueSize)
	v.SetDefault("scan.batch_max_count", defaults.Scan.BatchMaxCount)
	v.SetDefault("scan.batch_max_interval", defaults.Scan.BatchMaxInterval)

	// Hash defaults
	v.SetDefault("hash.prefix_threshold_bytes", defaults.Hash.PrefixThresholdBytes)

	// Logger defaults
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
	v.SetDefault("logger.output", defaults.Logger.Output)
	v.SetDefault("logger.development", defaults.Logger.Development)
}
