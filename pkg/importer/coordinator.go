// Package importer replaces the local database through a two-phase handoff:
// a candidate image is staged and the process restarts; on the next start,
// before the storage engine opens, the staged image is written into the pool.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/fly-io/poolimport/pkg/bootintent"
	"github.com/fly-io/poolimport/pkg/db"
	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/image"
	"github.com/fly-io/poolimport/pkg/metrics"
	"github.com/fly-io/poolimport/pkg/security"
	"github.com/fly-io/poolimport/pkg/staging"
)

var (
	// ErrStorageUnavailable is the staging store's failure sentinel.
	ErrStorageUnavailable = staging.ErrStorageUnavailable

	// ErrFlagWithoutData is the reason reported when the boot intent says an
	// import is pending but nothing is staged.
	ErrFlagWithoutData = errors.New("pending import flagged but no staged image found")

	// ErrWriterFailure marks any failure while rebuilding the pool.
	ErrWriterFailure = errors.New("pool writer failed")
)

// Outcome is the kind of result a resume attempt produced.
type Outcome int

const (
	NoPendingImport Outcome = iota
	Recovered
)

func (o Outcome) String() string {
	switch o {
	case NoPendingImport:
		return "no_pending_import"
	case Recovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// ResumeResult reports what ResumePendingImport did.
type ResumeResult struct {
	Outcome Outcome
	// Imported distinguishes Recovered(true) from Recovered(false).
	Imported bool
	// Reason is ErrFlagWithoutData for Recovered(false).
	Reason       error
	ImportID     int64
	BytesWritten int
}

// IntentStore persists the boot intent.
type IntentStore interface {
	Load() (bootintent.Intent, error)
	Save(bootintent.Intent) error
	Clear() error
}

// StoreOpener opens the staging store on demand.
type StoreOpener func() (staging.Store, error)

// PoolWriter rebuilds the pool around a database image. It takes ownership
// of payload.
type PoolWriter interface {
	Write(ctx context.Context, payload []byte) (int, error)
}

// Restarter ends the current process lifetime and starts the next one.
// A successful Restart does not return.
type Restarter interface {
	Restart() error
}

// Journal records import history. Failures are logged and otherwise ignored.
type Journal interface {
	Create(imp *db.Import) error
	UpdateStatus(id int64, status, errorMessage string) error
	MarkRecovered(id int64, bytesWritten int64) error
}

// Config wires a Coordinator. Journal and Validator are optional.
type Config struct {
	Intents   IntentStore
	OpenStore StoreOpener
	Writer    PoolWriter
	Restarter Restarter
	Journal   Journal
	Validator *security.Validator
}

// Coordinator runs both phases of an import.
type Coordinator struct {
	intents   IntentStore
	openStore StoreOpener
	writer    PoolWriter
	restarter Restarter
	journal   Journal
	validator *security.Validator
	cleanup   *Cleanup
}

// NewCoordinator returns a Coordinator for cfg.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		intents:   cfg.Intents,
		openStore: cfg.OpenStore,
		writer:    cfg.Writer,
		restarter: cfg.Restarter,
		journal:   cfg.Journal,
		validator: cfg.Validator,
		cleanup:   NewCleanup(cfg.Intents),
	}
}

// BeginImport stages candidate and restarts the process. With a real
// Restarter it only returns on failure: image.ErrInvalidFormat and
// ErrStorageUnavailable leave no restart behind and may be retried with
// another file.
func (c *Coordinator) BeginImport(ctx context.Context, candidate []byte, source string) error {
	if _, err := c.Stage(ctx, candidate, source); err != nil {
		return err
	}
	return c.Restart()
}

// Stage validates candidate, persists the extracted image and sets the
// pending flag. It returns the history ID of the import (0 without a journal).
func (c *Coordinator) Stage(ctx context.Context, candidate []byte, source string) (int64, error) {
	slog.Info("import_stage_start", "source", source, "size", len(candidate))

	payload, err := image.Extract(candidate)
	if err != nil {
		metrics.ImportsRejected.WithLabelValues("invalid_format").Inc()
		return 0, err
	}

	if c.validator != nil {
		if err := c.validator.ValidateImageSize(int64(len(payload))); err != nil {
			metrics.ImportsRejected.WithLabelValues("too_large").Inc()
			return 0, err
		}
	}

	store, err := c.openStore()
	if err != nil {
		metrics.ImportsRejected.WithLabelValues("storage_unavailable").Inc()
		return 0, err
	}
	defer store.Close()

	sum := sha256.Sum256(payload)
	imp := &db.Import{
		Source: source,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(payload)),
		Status: db.StatusStaged,
	}
	c.journalCreate(imp)

	if err := store.Put(ctx, payload); err != nil {
		c.journalStatus(imp.ID, db.StatusFailed, err)
		metrics.ImportsRejected.WithLabelValues("storage_unavailable").Inc()
		return 0, err
	}

	intent := bootintent.Intent{
		PendingImport: true,
		ImportID:      imp.ID,
		Source:        source,
		Size:          len(payload),
		StagedAt:      time.Now().UTC(),
	}
	if err := c.intents.Save(intent); err != nil {
		if cerr := store.Clear(context.WithoutCancel(ctx)); cerr != nil {
			slog.Warn("staging_rollback_failed", "error", cerr)
		}
		c.journalStatus(imp.ID, db.StatusFailed, err)
		metrics.ImportsRejected.WithLabelValues("storage_unavailable").Inc()
		return 0, errors.Mark(err, ErrStorageUnavailable)
	}

	metrics.ImportsStaged.Inc()
	slog.Info("import_staged", "import_id", imp.ID, "source", source, "size", len(payload), "sha256", imp.SHA256[:16]+"...")
	return imp.ID, nil
}

// Restart hands control to the next process lifetime.
func (c *Coordinator) Restart() error {
	slog.Info("import_restart_requested")
	if err := c.restarter.Restart(); err != nil {
		slog.Error("import_restart_failed", "error", err)
		return errors.Wrap(err, "restart failed")
	}
	return nil
}

// ResumePendingImport finishes a staged import. It must run once per process
// start, before anything opens the storage engine.
//
// Whatever happens after a pending import is detected, the staged image and
// the boot intent are cleared before returning, so a failed import is never
// retried on the next boot. Failures to read the staged image or rebuild
// the pool are returned marked with ErrWriterFailure.
func (c *Coordinator) ResumePendingImport(ctx context.Context) (ResumeResult, error) {
	intent, err := c.intents.Load()
	if err != nil {
		// An unreadable intent would fail every boot; drop it with whatever is staged.
		c.cleanup.Discard(ctx, c.openStore)
		metrics.ResumeOutcomes.WithLabelValues(metrics.OutcomeWriterFailure).Inc()
		return ResumeResult{}, errors.Wrap(err, "boot intent unreadable")
	}
	return c.resume(ctx, intent)
}

func (c *Coordinator) resume(ctx context.Context, intent bootintent.Intent) (res ResumeResult, err error) {
	if !intent.PendingImport {
		slog.Info("import_resume_none")
		metrics.ResumeOutcomes.WithLabelValues(metrics.OutcomeNoPending).Inc()
		return ResumeResult{Outcome: NoPendingImport}, nil
	}

	slog.Info("import_resume_pending", "import_id", intent.ImportID, "source", intent.Source, "size", intent.Size)
	res = ResumeResult{Outcome: Recovered, ImportID: intent.ImportID}

	var store staging.Store
	defer func() {
		c.cleanup.Run(ctx, store)
	}()

	store, err = c.openStore()
	if err != nil {
		store = nil
		return c.failed(res, intent, errors.Mark(err, ErrWriterFailure))
	}

	data, found, err := store.Get(ctx)
	if err != nil {
		return c.failed(res, intent, errors.Mark(err, ErrWriterFailure))
	}
	if !found {
		slog.Error("import_resume_flag_without_data", "import_id", intent.ImportID)
		c.journalStatus(intent.ImportID, db.StatusAbandoned, ErrFlagWithoutData)
		metrics.ResumeOutcomes.WithLabelValues(metrics.OutcomeFlagWithoutData).Inc()
		res.Reason = ErrFlagWithoutData
		return res, nil
	}

	c.journalStatus(intent.ImportID, db.StatusWriting, nil)

	n, err := c.writer.Write(ctx, data)
	if err != nil {
		return c.failed(res, intent, errors.Mark(err, ErrWriterFailure))
	}

	if c.journal != nil && intent.ImportID != 0 {
		if jerr := c.journal.MarkRecovered(intent.ImportID, int64(n)); jerr != nil {
			slog.Warn("journal_update_failed", "import_id", intent.ImportID, "error", jerr)
		}
	}
	metrics.ResumeOutcomes.WithLabelValues(metrics.OutcomeRecovered).Inc()
	metrics.PoolBytesWritten.Add(float64(n))

	slog.Info("import_resume_complete", "import_id", intent.ImportID, "bytes_written", n)
	res.Imported = true
	res.BytesWritten = n
	return res, nil
}

func (c *Coordinator) failed(res ResumeResult, intent bootintent.Intent, err error) (ResumeResult, error) {
	slog.Error("import_resume_failed", "import_id", intent.ImportID, "error", err)
	c.journalStatus(intent.ImportID, db.StatusFailed, err)
	metrics.ResumeOutcomes.WithLabelValues(metrics.OutcomeWriterFailure).Inc()
	return res, err
}

// ClearPending drops any staged image and pending flag without importing.
func (c *Coordinator) ClearPending(ctx context.Context) error {
	intent, err := c.intents.Load()
	if err == nil && intent.PendingImport {
		c.journalStatus(intent.ImportID, db.StatusAbandoned, errors.New("cleared manually"))
	}
	return c.cleanup.Discard(ctx, c.openStore)
}

func (c *Coordinator) journalCreate(imp *db.Import) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Create(imp); err != nil {
		slog.Warn("journal_create_failed", "source", imp.Source, "error", err)
	}
}

func (c *Coordinator) journalStatus(id int64, status string, cause error) {
	if c.journal == nil || id == 0 {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := c.journal.UpdateStatus(id, status, msg); err != nil {
		slog.Warn("journal_update_failed", "import_id", id, "status", status, "error", err)
	}
}
