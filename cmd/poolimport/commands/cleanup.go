package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupStaged   bool
	cleanupHistory  int
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up staged imports, history and leftover downloads",
	Long: `Clean up resources left by imports:
  --staged           Drop the staged image and pending flag without importing
  --history <keep>   Keep only the newest <keep> history rows
  --orphaned         Remove leftover downloads from the work directory`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupStaged, "staged", false, "Clear the staged import")
	cleanupCmd.Flags().IntVar(&cleanupHistory, "history", -1, "Prune history to this many rows")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove orphaned downloads")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupStaged && cleanupHistory < 0 && !cleanupOrphaned {
		return fmt.Errorf("must specify --staged, --history, or --orphaned")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	if cleanupStaged {
		if err := a.coord.ClearPending(ctx); err != nil {
			return errors.Wrap(err, "failed to clear staged import")
		}
		fmt.Println("✅ Staged import cleared")
	}

	if cleanupHistory >= 0 {
		n, err := a.repo.Prune(cleanupHistory)
		if err != nil {
			return errors.Wrap(err, "history prune failed")
		}
		fmt.Printf("✅ Removed %d history rows\n", n)
	}

	if cleanupOrphaned {
		return cleanupOrphanedDownloads(cfg.WorkDir)
	}
	return nil
}

// cleanupOrphanedDownloads removes downloads left by interrupted imports.
// Completed imports delete their own download, so anything left is orphaned.
func cleanupOrphanedDownloads(workDir string) error {
	fmt.Println("🔍 Scanning for orphaned downloads...")

	orphanCount := 0
	downloadDir := filepath.Join(workDir, "downloads")
	entries, err := os.ReadDir(downloadDir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to read download directory")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		orphanPath := filepath.Join(downloadDir, entry.Name())
		if err := os.Remove(orphanPath); err != nil {
			fmt.Printf("⚠️  Failed to remove orphaned download %s: %v\n", entry.Name(), err)
			continue
		}
		fmt.Printf("🗑️  Removed orphaned download: %s\n", entry.Name())
		orphanCount++
	}

	fmt.Printf("✅ Removed %d orphaned downloads\n", orphanCount)
	return nil
}
