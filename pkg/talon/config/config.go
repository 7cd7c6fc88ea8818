package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// EngineConfig configures the external scan engine.
type EngineConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// QuarantineConfig configures infected-file quarantine.
type QuarantineConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// HistoryConfig configures run history retention.
type HistoryConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	Workers   int      `mapstructure:"workers"`
	QueueSize int      `mapstructure:"queue_size"`
	BatchSize int      `mapstructure:"batch_size"`
	Strategy  string   `mapstructure:"strategy"`
	Exclude   []string `mapstructure:"exclude"`

	Engine     EngineConfig     `mapstructure:"engine"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Quarantine QuarantineConfig `mapstructure:"quarantine"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file location: $XDG_CONFIG_HOME/talon/config.yaml. Environment
// variables are prefixed with TALON_ (e.g. TALON_WORKERS).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix("TALON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Workers = ClampWorkers(cfg.Workers)
	return &cfg, nil
}

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("strategy", DefaultStrategy)
	v.SetDefault("exclude", DefaultExclusions)

	v.SetDefault("engine.command", DefaultEngineCommand)
	v.SetDefault("engine.args", []string{})

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", DefaultCacheDir())

	v.SetDefault("quarantine.enabled", false)
	v.SetDefault("quarantine.dir", DefaultQuarantineDir())

	v.SetDefault("history.dir", DefaultHistoryDir())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.components", map[string]string{
		"sched":  "info",
		"engine": "info",
		"watch":  "warn",
	})
}

// ConfigDir returns the talon configuration directory.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "talon")
}

// DefaultCacheDir returns the default verdict cache directory.
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, "talon", "verdicts")
}

// DefaultQuarantineDir returns the default quarantine directory.
func DefaultQuarantineDir() string {
	return filepath.Join(xdg.DataHome, "talon", "quarantine")
}

// DefaultHistoryDir returns the default run history directory.
func DefaultHistoryDir() string {
	return filepath.Join(xdg.DataHome, "talon", "history")
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}
