package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talonsec/talon/pkg/talon/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage talon configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/talon/config.yaml (if set)
  2. ~/.config/talon/config.yaml

Environment variables can override config file settings using the TALON_ prefix:
  TALON_WORKERS=16
  TALON_ENGINE_COMMAND=clamdscan
  TALON_EXCLUDE=/proc,/sys`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE:  runConfigInit,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by $VISUAL, then $EDITOR, falling back to 'vi'.
If the config file doesn't exist, a default one is created first.`,
	RunE: runConfigEdit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.ConfigDir(), "config.yaml")
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("Config file: %s\n\n", used)
	} else {
		fmt.Printf("Config file: (none, using defaults)\n\n")
	}

	fmt.Printf("workers:     %d\n", cfg.Workers)
	fmt.Printf("queue_size:  %d\n", cfg.QueueSize)
	fmt.Printf("batch_size:  %d\n", cfg.BatchSize)
	fmt.Printf("strategy:    %s\n", cfg.Strategy)
	fmt.Printf("exclude:     %s\n", strings.Join(cfg.Exclude, ", "))
	fmt.Printf("engine:      %s %s\n", cfg.Engine.Command, strings.Join(cfg.Engine.Args, " "))
	fmt.Printf("cache:       enabled=%v path=%s\n", cfg.Cache.Enabled, cfg.Cache.Path)
	fmt.Printf("quarantine:  enabled=%v dir=%s\n", cfg.Quarantine.Enabled, cfg.Quarantine.Dir)
	fmt.Printf("history:     dir=%s retention=%dd\n", cfg.History.Dir, cfg.History.RetentionDays)
	fmt.Printf("logging:     level=%s\n", cfg.Logging.Level)
	return nil
}

const defaultConfigYAML = `# talon configuration
# See 'talon config show' for effective values.

workers: 8
strategy: backoff
exclude:
  - /proc
  - /sys
  - /dev
  - /run

engine:
  command: clamscan
  args: []

cache:
  enabled: true

quarantine:
  enabled: false

history:
  retention_days: 30

logging:
  level: info
`

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configFilePath()
	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		return nil
	}

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	printInfo("Created %s", path)
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := configFilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	editCmd := exec.Command(editor, path)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

func runConfigPath(_ *cobra.Command, _ []string) error {
	fmt.Println(configFilePath())
	return nil
}
