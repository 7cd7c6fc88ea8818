package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talonsec/talon/pkg/talon/estimate"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <path>",
	Short: "Count files and directories without scanning",
	Long: `Walk a directory tree and count what a scan would cover, without
invoking the scan engine. Useful for sizing a scan before running it.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(_ *cobra.Command, args []string) error {
	absPath, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	totals, err := estimate.Count(ctx, absPath, viper.GetStringSlice("exclude"))
	if err != nil {
		return fmt.Errorf("estimate failed: %w", err)
	}

	fmt.Printf("%s\n", absPath)
	fmt.Printf("  directories: %d\n", totals.Dirs)
	fmt.Printf("  files:       %d\n", totals.Files)
	fmt.Printf("  walked in:   %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
