package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "talon <path> [workers]",
		Short: "Scan directories for malware",
		Long: `Talon scans a directory tree for malware using an external scan
engine, running directory enumeration and file scanning concurrently.

The optional second argument overrides the scan worker count.

Examples:
  talon /srv/uploads            # Scan a directory
  talon /srv/uploads 16         # Scan with 16 workers
  talon suspicious.bin          # Scan a single file
  talon -e /srv/uploads/tmp /srv/uploads
  talon watch /srv/uploads      # Continuous on-access scanning
  talon history                 # View past scan runs`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runScan,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/talon/config.yaml)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "scan worker count (0=auto)")
	rootCmd.PersistentFlags().StringSliceP("exclude", "e", nil, "exclude patterns (can be specified multiple times)")
	rootCmd.PersistentFlags().String("strategy", "", "queue pop strategy: poll or backoff")
	rootCmd.PersistentFlags().Int("queue-size", 0, "task queue capacity (0=auto)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "bypass the verdict cache, scan every file")
	rootCmd.PersistentFlags().Bool("quarantine", false, "move infected files to quarantine")
	rootCmd.PersistentFlags().StringP("output", "o", "plain", "summary format: plain or json")
	rootCmd.PersistentFlags().Bool("progress", false, "print progress to stderr during the scan")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("exclude", rootCmd.PersistentFlags().Lookup("exclude"))
	_ = viper.BindPFlag("strategy", rootCmd.PersistentFlags().Lookup("strategy"))
	_ = viper.BindPFlag("queue_size", rootCmd.PersistentFlags().Lookup("queue-size"))
	_ = viper.BindPFlag("no_cache", rootCmd.PersistentFlags().Lookup("no-cache"))
	_ = viper.BindPFlag("quarantine.enabled", rootCmd.PersistentFlags().Lookup("quarantine"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("progress", rootCmd.PersistentFlags().Lookup("progress"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.SetEnvPrefix("TALON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Flag-bound keys (workers, queue_size, strategy) keep their flag
	// defaults so zero still means auto-tune; everything else gets the
	// package defaults.
	viper.SetDefault("exclude", config.DefaultExclusions)
	viper.SetDefault("batch_size", config.DefaultBatchSize)
	viper.SetDefault("engine.command", config.DefaultEngineCommand)
	viper.SetDefault("engine.args", []string{})
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.path", config.DefaultCacheDir())
	viper.SetDefault("quarantine.dir", config.DefaultQuarantineDir())
	viper.SetDefault("history.dir", config.DefaultHistoryDir())
	viper.SetDefault("history.retention_days", config.DefaultRetentionDays)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.rotation.max_size", "10MB")
	viper.SetDefault("logging.rotation.max_age", 30)
	viper.SetDefault("logging.rotation.max_backups", 5)

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()
}

// initLogging wires the file logger from the effective configuration.
// Failures are non-fatal; the scan still runs without a log file.
func initLogging() {
	level := viper.GetString("logging.level")
	if getVerbose() {
		level = "debug"
	}
	cfg := logging.Config{
		Level:      level,
		Path:       viper.GetString("logging.path"),
		Components: viper.GetStringMapString("logging.components"),
		Rotation: logging.RotationConfig{
			MaxSize:    rotationMaxSize(),
			MaxAge:     viper.GetInt("logging.rotation.max_age"),
			MaxBackups: viper.GetInt("logging.rotation.max_backups"),
		},
	}
	if err := logging.Init(cfg); err != nil {
		printVerbose("Logging disabled: %v", err)
	}
}

// rotationMaxSize parses the configured rotation size ("10MB"); zero
// falls back to the logging package default.
func rotationMaxSize() int64 {
	s := viper.GetString("logging.rotation.max_size")
	if s == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "talon: %v\n", err)
	}
	_ = logging.Close()
	return err
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message to stderr if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printInfo prints a message to stderr unless quiet mode is enabled.
// Stdout is reserved for verdict lines and the summary.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
