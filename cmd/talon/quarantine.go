package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talonsec/talon/pkg/talon/config"
	"github.com/talonsec/talon/pkg/talon/quarantine"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Manage quarantined files",
	Long: `List, restore, or delete files that were moved to quarantine.

Quarantined files are stored stripped of execute permission alongside
a record of where they came from.`,
	RunE: runQuarantineList,
}

var quarantineRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a quarantined file to its original location",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineRestore,
}

var quarantineDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Permanently delete a quarantined file",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineDelete,
}

func init() {
	quarantineCmd.AddCommand(quarantineRestoreCmd)
	quarantineCmd.AddCommand(quarantineDeleteCmd)
	rootCmd.AddCommand(quarantineCmd)
}

// getQuarantine returns the store over the configured directory.
func getQuarantine() (*quarantine.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return quarantine.NewStore(config.DefaultQuarantineDir())
	}
	dir := cfg.Quarantine.Dir
	if dir == "" {
		dir = config.DefaultQuarantineDir()
	}
	return quarantine.NewStore(dir)
}

func runQuarantineList(_ *cobra.Command, _ []string) error {
	store, err := getQuarantine()
	if err != nil {
		return fmt.Errorf("failed to open quarantine: %w", err)
	}

	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list quarantine: %w", err)
	}

	if len(records) == 0 {
		printInfo("Quarantine is empty.")
		return nil
	}

	fmt.Printf("\n%-38s  %-24s  %s\n", "ID", "THREAT", "ORIGINAL PATH")
	fmt.Println(strings.Repeat("-", 100))
	for _, rec := range records {
		fmt.Printf("%-38s  %-24s  %s\n", rec.ID, rec.Threat, rec.OriginalPath)
	}
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("\n%d quarantined files. Use 'talon quarantine restore <id>' to recover one.\n", len(records))
	return nil
}

func runQuarantineRestore(_ *cobra.Command, args []string) error {
	store, err := getQuarantine()
	if err != nil {
		return fmt.Errorf("failed to open quarantine: %w", err)
	}
	rec, err := store.Get(args[0])
	if err != nil {
		return err
	}
	if err := store.Restore(args[0]); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	printInfo("Restored %s", rec.OriginalPath)
	return nil
}

func runQuarantineDelete(_ *cobra.Command, args []string) error {
	store, err := getQuarantine()
	if err != nil {
		return fmt.Errorf("failed to open quarantine: %w", err)
	}
	if err := store.Delete(args[0]); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	printInfo("Deleted quarantined file %s", args[0])
	return nil
}
