package commands

import (
	"fmt"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/poolfs"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the slot files in the pool and their headers",
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout := cfg.Layout()
	slots, err := poolfs.ReadSlots(poolfs.OpenRoot(cfg.StorageRoot), layout)
	if err != nil {
		return errors.Wrap(err, "pool read failed")
	}

	fmt.Printf("Pool %s (capacity %d, %d files)\n", layout.PoolDir(), layout.Capacity, len(slots))
	if len(slots) == 0 {
		return nil
	}

	fmt.Printf("%-34s %-24s %-10s %-12s %-12s %s\n", "FILE", "PATH", "FLAGS", "SIZE", "DATA", "DIGEST")
	fmt.Println("--------------------------------------------------------------------------------------------------------")

	for _, s := range slots {
		p := s.Header.Path
		if p == "" {
			p = "-"
		}
		digest := "ok"
		if !s.Valid {
			digest = "INVALID"
		}
		fmt.Printf("%-34s %-24s 0x%08x %-12d %-12d %s\n",
			s.Name, p, s.Header.Flags, s.Size, s.DataSize(), digest)
	}

	if _, ok := poolfs.FindAssigned(slots, layout.VirtualPath); !ok {
		fmt.Printf("\nNo slot holds %s\n", layout.VirtualPath)
	}
	return nil
}
