package importer

import (
	"context"
	"log/slog"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/staging"
)

// Cleanup clears the staged image and the boot intent after a resume
// attempt, whatever its outcome.
type Cleanup struct {
	intents IntentStore
}

// NewCleanup returns a Cleanup over intents.
func NewCleanup(intents IntentStore) *Cleanup {
	return &Cleanup{intents: intents}
}

// Run clears and closes store (if it was opened) and then the intent.
// Failures are joined and logged; the intent is cleared even if the store
// could not be.
func (c *Cleanup) Run(ctx context.Context, store staging.Store) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error

	if store != nil {
		if err := store.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := store.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close staging store"))
		}
	} else {
		slog.Warn("import_cleanup_store_unopened")
	}

	if err := c.intents.Clear(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("import_cleanup_incomplete", "error", err)
		return err
	}
	slog.Info("import_cleanup_complete")
	return nil
}

// Discard opens the store itself and runs the cleanup.
func (c *Cleanup) Discard(ctx context.Context, open StoreOpener) error {
	store, err := open()
	if err != nil {
		slog.Warn("import_cleanup_store_open_failed", "error", err)
		store = nil
	}
	if cerr := c.Run(ctx, store); cerr != nil {
		return cerr
	}
	return err
}
