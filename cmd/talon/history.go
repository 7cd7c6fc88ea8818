package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/manifest"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View scan run history",
	Long: `View the history of scan runs.

Each completed scan is recorded with its counters, worker settings,
and timing.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a specific run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove history entries past the retention period",
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getManifest returns a manifest over the configured history directory.
func getManifest() (*manifest.Manifest, error) {
	cfg, err := config.Load()
	if err != nil {
		return manifest.New(config.DefaultHistoryDir())
	}
	return manifest.New(cfg.History.Dir)
}

func runHistory(_ *cobra.Command, _ []string) error {
	m, err := getManifest()
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No scan history found.")
		printInfo("Run 'talon <path>' to scan a directory.")
		return nil
	}

	fmt.Printf("\n%-38s  %-20s  %-8s  %-8s  %-6s\n", "ID", "START", "FILES", "THREATS", "STATE")
	fmt.Println(strings.Repeat("-", 88))

	for _, entry := range entries {
		state := "ok"
		if entry.Cancelled {
			state = "cancel"
		}
		fmt.Printf("%-38s  %-20s  %-8d  %-8d  %-6s\n",
			entry.ID,
			entry.Start.Format("2006-01-02 15:04:05"),
			entry.FilesScanned,
			entry.Infected,
			state,
		)
	}

	fmt.Println(strings.Repeat("-", 88))
	fmt.Printf("\nShowing %d entries. Use 'talon history show <id>' for details.\n", len(entries))
	return nil
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	m, err := getManifest()
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	fmt.Println("\nScan Run Details")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ID:           %s\n", entry.ID)
	fmt.Printf("Root:         %s\n", entry.Root)
	fmt.Printf("Started:      %s\n", entry.Start.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Finished:     %s\n", entry.End.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Workers:      %d (+%d producers)\n", entry.Workers, entry.Producers)
	fmt.Printf("Directories:  %d\n", entry.DirsScanned)
	fmt.Printf("Files:        %d\n", entry.FilesScanned)
	fmt.Printf("Threats:      %d\n", entry.Infected)
	fmt.Printf("Scan errors:  %d\n", entry.ScanErrors)
	fmt.Printf("Cache hits:   %d\n", entry.CacheHits)
	fmt.Printf("Quarantined:  %d\n", entry.Quarantined)
	if entry.Cancelled {
		fmt.Println("Run was cancelled before completion.")
	}
	return nil
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m, err := manifest.New(cfg.History.Dir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	retentionDays := cfg.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	removed, err := m.Clean(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d entries older than %d days.", removed, retentionDays)
	return nil
}
