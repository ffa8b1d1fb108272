package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fly-io/poolimport/pkg/errors"
	appfsm "github.com/fly-io/poolimport/pkg/fsm"
	"github.com/fly-io/poolimport/pkg/image"
	"github.com/fly-io/poolimport/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	importS3Key     string
	importStdin     bool
	importNoRestart bool
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Stage a database image and restart into it",
	Long: `Validates a SQLite database image (or a dumped pool slot file), stages it
durably and restarts the process. The pool is rebuilt on the next boot.
  import <file>          Import a local file
  import --s3-key <key>  Download and import an object from the backup bucket
  import --stdin         Import bytes read from standard input`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importS3Key, "s3-key", "", "Import an object from the S3 bucket")
	importCmd.Flags().BoolVar(&importStdin, "stdin", false, "Read the candidate from standard input")
	importCmd.Flags().BoolVar(&importNoRestart, "no-restart", false, "Stage only; the import runs on the next boot")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sources := 0
	if len(args) == 1 {
		sources++
	}
	if importS3Key != "" {
		sources++
	}
	if importStdin {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("specify exactly one of a file, --s3-key or --stdin")
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

	var importID int64
	if importStdin {
		importID, err = stageStdin(ctx, a)
	} else {
		importID, err = stageWithFSM(ctx, a, args)
	}
	a.flushMetrics()
	if err != nil {
		if errors.Is(err, image.ErrInvalidFormat) {
			return fmt.Errorf("not a SQLite database image: %w", err)
		}
		return err
	}

	fmt.Printf("Staged import %d\n", importID)
	if importNoRestart {
		fmt.Println("Restart skipped; the import completes on the next boot")
		return nil
	}

	// Release the state database before the process image is replaced.
	a.Close()
	return a.coord.Restart()
}

func stageStdin(ctx context.Context, a *app) (int64, error) {
	limit := a.cfg.MaxImageSize + image.PoolHeaderSize
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return 0, errors.Wrap(err, "failed to read stdin")
	}
	if int64(len(data)) > limit {
		return 0, fmt.Errorf("input exceeds %d bytes", limit)
	}
	return a.coord.Stage(ctx, data, "stdin")
}

func stageWithFSM(ctx context.Context, a *app, args []string) (int64, error) {
	cfg := a.cfg

	req := &appfsm.ImportRequest{}
	var downloader appfsm.Downloader
	if importS3Key != "" {
		s3Client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			return 0, errors.Wrap(err, "S3 client failed")
		}
		downloader = s3Client
		req.Source = importS3Key
		req.FromS3 = true
		req.Bucket = cfg.S3Bucket
	} else {
		req.Source = args[0]
	}

	if err := os.MkdirAll(cfg.FSMDBPath, 0755); err != nil {
		return 0, errors.Wrap(err, "failed to create FSM directory")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return 0, errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(a.coord, downloader, a.validator, cfg.WorkDir)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return 0, errors.Wrap(err, "FSM register failed")
	}

	resp := &appfsm.ImportResponse{}
	version, err := start(ctx, appfsm.RunID(req.Source), fsm.NewRequest(req, resp))
	if err != nil {
		return 0, errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "version", version, "source", req.Source)

	if err := manager.Wait(ctx, version); err != nil {
		if cause := machine.Failure(); cause != nil {
			return 0, cause
		}
		return 0, errors.Wrap(err, "import failed")
	}

	slog.Info("import_fsm_finished", "status", resp.Status, "import_id", resp.ImportID, "payload_size", resp.PayloadSize)

	return resp.ImportID, nil
}
