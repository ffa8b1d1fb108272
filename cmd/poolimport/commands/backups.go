package commands

import (
	"context"
	"fmt"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/storage"
	"github.com/spf13/cobra"
)

var backupsPrefix string

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List database backups available for import from S3",
	RunE:  runBackups,
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.Flags().StringVar(&backupsPrefix, "prefix", "", "Only list keys under this prefix")
}

func runBackups(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	objects, err := client.ListObjects(ctx, backupsPrefix)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(objects) == 0 {
		fmt.Printf("No backups found in s3://%s/%s\n", client.Bucket(), backupsPrefix)
		return nil
	}

	fmt.Printf("%-60s %-14s %s\n", "KEY", "SIZE", "LAST MODIFIED")
	for _, o := range objects {
		fmt.Printf("%-60s %-14d %s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}
