package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/engine"
	"github.com/talonsec/talon/pkg/talon/estimate"
	"github.com/talonsec/talon/pkg/talon/manifest"
	"github.com/talonsec/talon/pkg/talon/output"
	"github.com/talonsec/talon/pkg/talon/quarantine"
	"github.com/talonsec/talon/pkg/talon/sched"
	"github.com/talonsec/talon/pkg/talon/tuner"
	"github.com/talonsec/talon/pkg/talon/types"
	"github.com/talonsec/talon/pkg/talon/vcache"
)

// runScan is the main scan command handler.
func runScan(_ *cobra.Command, args []string) error {
	initLogging()

	absPath, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	workers, err := resolveWorkers(args)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", absPath)
		}
		return fmt.Errorf("cannot access path: %w", err)
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}

	// Single files are scanned inline; the pool machinery buys
	// nothing for one task.
	if !info.IsDir() {
		return scanSingleFile(absPath, eng)
	}

	report, err := output.ReportFor(viper.GetString("output"))
	if err != nil {
		return err
	}

	opt := sizeScheduler(workers)
	opts := sched.Options{
		Root:          absPath,
		Workers:       opt.Workers,
		DirQueueSize:  opt.DirQueueSize,
		FileQueueSize: opt.FileQueueSize,
		Strategy:      viper.GetString("strategy"),
		Exclude:       viper.GetStringSlice("exclude"),
		Engine:        eng,
	}
	if qs := viper.GetInt("queue_size"); qs > 0 {
		opts.DirQueueSize = qs
		opts.FileQueueSize = qs
	}

	cache := openCache()
	if cache != nil {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if viper.GetBool("progress") {
		// A fast counting pre-pass turns the progress line into
		// scanned/total instead of a bare counter.
		totals, err := estimate.Count(ctx, absPath, opts.Exclude)
		if err != nil {
			printVerbose("Estimate pre-pass failed: %v", err)
		}
		opts.OnProgress = func(p sched.Progress) {
			if totals.Files > 0 {
				fmt.Fprintf(os.Stderr, "\r%d/%d files, %d dirs, %d threats",
					p.FilesScanned, totals.Files, p.DirsScanned, p.Infected)
				return
			}
			fmt.Fprintf(os.Stderr, "\r%d dirs, %d files, %d threats",
				p.DirsScanned, p.FilesScanned, p.Infected)
		}
	}

	s, err := sched.New(opts)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		printInfo("\nInterrupted, stopping scan...")
		s.Quit()
	}()

	if !getQuiet() {
		printInfo("Scanning %s with %d workers...", absPath, opts.Workers)
	}

	start := time.Now()
	summary, err := s.Run(ctx)
	if viper.GetBool("progress") {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	logManifest(summary, opts.Workers, opts.Producers(), start)

	// Threats found is still a successful scan; the summary carries
	// the count.
	return report.Write(os.Stdout, summary)
}

// scanSingleFile handles a regular-file target without the pools.
func scanSingleFile(path string, eng engine.Engine) error {
	report, err := output.ReportFor(viper.GetString("output"))
	if err != nil {
		return err
	}

	opts := sched.Options{Root: path, Workers: 1, Engine: eng}
	if cache := openCache(); cache != nil {
		defer cache.Close()
		opts.Cache = cache
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := sched.ScanFile(ctx, opts)
	if err != nil {
		return err
	}
	return report.Write(os.Stdout, summary)
}

// resolveTarget expands and absolutizes the scan path argument.
func resolveTarget(arg string) (string, error) {
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}

// resolveWorkers merges the optional positional worker count with the
// --workers flag. The positional argument wins.
func resolveWorkers(args []string) (int, error) {
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("invalid worker count %q", args[1])
		}
		return config.ClampWorkers(n), nil
	}
	return viper.GetInt("workers"), nil
}

// sizeScheduler derives pool and queue sizing from system resources,
// honoring an explicit worker override.
func sizeScheduler(workers int) tuner.OptimalConfig {
	resources, err := tuner.Detect()
	if err != nil {
		printVerbose("Failed to detect system resources, using defaults: %v", err)
		resources = tuner.SystemResources{
			CPUCores:     4,
			TotalRAM:     8 << 30,
			AvailableRAM: 4 << 30,
		}
	}

	var opt tuner.OptimalConfig
	if workers > 0 {
		opt = tuner.CalculateWithOverrides(resources, workers)
	} else {
		opt = tuner.Calculate(resources)
	}

	printVerbose("System: %d CPUs, %s RAM, %s available",
		resources.CPUCores,
		types.FormatSize(resources.TotalRAM),
		types.FormatSize(resources.AvailableRAM))
	printVerbose("Config: %d producers, %d workers, queue size %d",
		opt.Producers, opt.Workers, opt.FileQueueSize)

	return opt
}

// buildEngine constructs the external scan engine from configuration.
func buildEngine() (engine.Engine, error) {
	command := viper.GetString("engine.command")
	args := viper.GetStringSlice("engine.args")
	eng, err := engine.NewClamAV(command, engine.WithArgs(args...))
	if err != nil {
		return nil, fmt.Errorf("scan engine: %w", err)
	}
	return eng, nil
}

// openCache opens the verdict cache unless disabled. Cache failures
// degrade to uncached scanning.
func openCache() *vcache.Cache {
	if viper.GetBool("no_cache") {
		return nil
	}
	path := viper.GetString("cache.path")
	if path == "" {
		path = config.DefaultCacheDir()
	}
	cache, err := vcache.Open(path)
	if err != nil {
		printVerbose("Verdict cache unavailable: %v", err)
		return nil
	}
	return cache
}

// logManifest records the run in history. Failures are logged, never
// fatal.
func logManifest(summary *types.Summary, workers, producers int, start time.Time) {
	m, err := manifest.New(viper.GetString("history.dir"))
	if err != nil {
		printVerbose("History disabled: %v", err)
		return
	}
	if _, err := m.LogRun(summary, workers, producers, start); err != nil {
		printVerbose("Failed to record history: %v", err)
	}
}
