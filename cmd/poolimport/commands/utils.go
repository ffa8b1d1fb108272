package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fly-io/poolimport/internal/config"
	"github.com/fly-io/poolimport/pkg/bootintent"
	"github.com/fly-io/poolimport/pkg/db"
	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/importer"
	"github.com/fly-io/poolimport/pkg/metrics"
	"github.com/fly-io/poolimport/pkg/poolfs"
	"github.com/fly-io/poolimport/pkg/security"
	"github.com/fly-io/poolimport/pkg/staging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(cfg *config.Config) error {
	for _, dir := range []string{
		filepath.Dir(cfg.SQLitePath),
		filepath.Dir(cfg.IntentPath),
		cfg.StorageRoot,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	return nil
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	if err := ensureDirectories(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app wires the import pipeline from configuration.
type app struct {
	cfg       *config.Config
	repo      *db.Repository
	intents   *bootintent.File
	validator *security.Validator
	coord     *importer.Coordinator
	closed    bool
}

func newApp(cfg *config.Config, cmd *cobra.Command) (*app, error) {
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}

	validator := security.NewValidator(cfg.MaxImageSize)
	if err := validator.ValidateLayout(cfg.Layout()); err != nil {
		repo.Close()
		return nil, errors.Wrap(err, "pool layout invalid")
	}

	argv, err := restartArgv(cfg, cmd)
	if err != nil {
		repo.Close()
		return nil, err
	}

	intents := bootintent.NewFile(cfg.IntentPath)
	opts := cfg.StagingOptions()

	coord := importer.NewCoordinator(importer.Config{
		Intents:   intents,
		OpenStore: func() (staging.Store, error) { return staging.Open(opts) },
		Writer:    poolfs.NewWriter(cfg.StorageRoot, cfg.Layout()),
		Restarter: importer.ExecRestarter{Argv: argv},
		Journal:   repo,
		Validator: validator,
	})

	return &app{
		cfg:       cfg,
		repo:      repo,
		intents:   intents,
		validator: validator,
		coord:     coord,
	}, nil
}

func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if err := a.repo.Close(); err != nil {
		slog.Warn("db_close_failed", "error", err)
	}
}

// flushMetrics writes the metrics textfile, if configured.
func (a *app) flushMetrics() {
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		slog.Warn("metrics_write_failed", "path", a.cfg.MetricsFile, "error", err)
	}
}

// restartArgv is the command the process execs into after staging. By
// default it is this binary's boot command with the global flags that were
// set explicitly on cmd's command line. Environment and config file are
// inherited as is.
func restartArgv(cfg *config.Config, cmd *cobra.Command) ([]string, error) {
	if len(cfg.RestartCommand) > 0 {
		return cfg.RestartCommand, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to locate own executable")
	}
	argv := []string{exe, "boot"}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "restart-command" || rootCmd.PersistentFlags().Lookup(f.Name) == nil {
			return
		}
		argv = append(argv, "--"+f.Name+"="+f.Value.String())
	})
	return argv, nil
}
