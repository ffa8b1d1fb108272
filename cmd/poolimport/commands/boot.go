package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/importer"
	"github.com/fly-io/poolimport/pkg/metrics"
	"github.com/fly-io/poolimport/pkg/poolfs"
	"github.com/spf13/cobra"
)

var bootCmd = &cobra.Command{
	Use:   "boot [-- engine-command [args...]]",
	Short: "Finish a pending import, then hand off to the storage engine",
	Long: `Runs once per process start. If an import was staged, the pool is rebuilt
around it and the staged state is cleared whatever the outcome. With an engine
command, the process then execs into it; a failed import does not block startup.`,
	RunE: runBoot,
}

func init() {
	rootCmd.AddCommand(bootCmd)
}

func runBoot(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	found, err := poolfs.VerifyCapacity(poolfs.OpenRoot(cfg.StorageRoot), cfg.Layout())
	if errors.Is(err, poolfs.ErrCapacityMismatch) {
		metrics.CapacityMismatches.Inc()
		slog.Warn("boot_capacity_mismatch", "found", found, "configured", cfg.PoolCapacity)
	} else if err != nil {
		slog.Warn("boot_capacity_check_failed", "error", err)
	}

	res, resumeErr := a.coord.ResumePendingImport(ctx)
	a.flushMetrics()
	printResume(res, resumeErr)

	if len(args) == 0 {
		return resumeErr
	}

	a.Close()
	return importer.ExecRestarter{Argv: args}.Restart()
}

func printResume(res importer.ResumeResult, err error) {
	switch {
	case err != nil:
		fmt.Printf("Import %d failed: %v\n", res.ImportID, err)
	case res.Outcome == importer.NoPendingImport:
		fmt.Println("No pending import")
	case res.Imported:
		fmt.Printf("Import %d recovered (%d bytes)\n", res.ImportID, res.BytesWritten)
	default:
		fmt.Printf("Import %d not recovered: %v\n", res.ImportID, res.Reason)
	}
}
