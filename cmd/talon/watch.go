package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/quarantine"
	"github.com/talonsec/talon/pkg/talon/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Continuously scan files as they appear",
	Long: `Watch a directory tree and scan files as they are created or
modified. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	initLogging()

	absPath, err := resolveTarget(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch target must be a directory: %s", absPath)
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}

	workers := viper.GetInt("workers")
	if workers == 0 {
		workers = config.DefaultWorkers
	}

	opts := watch.Options{
		Root:      absPath,
		Workers:   workers,
		QueueSize: viper.GetInt("queue_size"),
		Exclude:   viper.GetStringSlice("exclude"),
		Engine:    eng,
	}

	if cache := openCache(); cache != nil {
		defer cache.Close()
		opts.Cache = cache
	}
	if viper.GetBool("quarantine.enabled") {
		store, err := quarantine.NewStore(viper.GetString("quarantine.dir"))
		if err != nil {
			return fmt.Errorf("quarantine setup: %w", err)
		}
		opts.Quarantine = store
	}

	m, err := watch.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printInfo("Watching %s (press Ctrl-C to stop)...", absPath)
	return m.Run(ctx)
}
