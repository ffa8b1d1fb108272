package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "poolimport",
	Short: "Replace the local database with an imported image",
	Long: `Stages a SQLite database image, restarts, and on the next boot rebuilds
the engine's pooled storage directory around it before the engine opens.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("sqlite-path", ".artifacts/poolimport.db", "SQLite state database path (history and staging)")
	flags.String("fsm-db-path", ".artifacts/fsm", "FSM BoltDB directory")
	flags.String("intent-path", ".artifacts/intent.yaml", "Boot intent file")
	flags.String("staging-backend", "sqlite", "Staging backend: sqlite or badger")
	flags.String("badger-path", ".artifacts/staging", "Badger staging directory")
	flags.String("storage-root", ".artifacts/root", "Storage root holding the engine's pool")
	flags.String("vfs-dir", ".sahpool", "Engine directory under the storage root")
	flags.String("opaque-dir", ".opaque", "Slot directory inside the engine directory")
	flags.String("virtual-path", "/main.db", "Virtual path of the main database")
	flags.Int("pool-capacity", 6, "Number of slot files in the pool")
	flags.String("s3-bucket", "", "S3 bucket holding database backups")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("work-dir", "/tmp/poolimport", "Directory for downloads")
	flags.Int64("max-image-size", 1024*1024*1024, "Max database image size in bytes")
	flags.StringSlice("restart-command", nil, "Command to exec after staging (default: this binary with 'boot')")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "intent-path", "staging-backend", "badger-path",
		"storage-root", "vfs-dir", "opaque-dir", "virtual-path", "pool-capacity",
		"s3-bucket", "s3-region", "work-dir", "max-image-size", "restart-command", "metrics-file",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
