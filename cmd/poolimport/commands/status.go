package commands

import (
	"fmt"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending import and import history",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	intent, err := a.intents.Load()
	if err != nil {
		return errors.Wrap(err, "intent load failed")
	}
	if intent.PendingImport {
		fmt.Printf("Pending import %d from %s (%d bytes, staged %s)\n\n",
			intent.ImportID, intent.Source, intent.Size, intent.StagedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("No pending import\n\n")
	}

	imports, err := a.repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(imports) == 0 {
		fmt.Println("No imports found")
		return nil
	}

	fmt.Printf("%-6s %-40s %-10s %-12s %-20s %s\n", "ID", "SOURCE", "STATUS", "SIZE", "UPDATED", "ERROR")
	fmt.Println("----------------------------------------------------------------------------------------------------------")

	for _, imp := range imports {
		msg := imp.ErrorMessage
		if msg == "" {
			msg = "-"
		}
		fmt.Printf("%-6d %-40s %-10s %-12d %-20s %s\n",
			imp.ID, imp.Source, imp.Status, imp.Size, imp.UpdatedAt, msg)
	}

	return nil
}
