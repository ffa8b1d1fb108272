// Package staging persists the one pending candidate image across a process
// restart.
package staging

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/fly-io/poolimport/pkg/errors"
)

// Key is the fixed identifier the candidate image is stored under.
const Key = "dbBytes"

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// ErrStorageUnavailable wraps every failure to open, read or write the store.
var ErrStorageUnavailable = errors.New("staging storage unavailable")

// Store holds at most one staged image.
type Store interface {
	// Put replaces the staged image. A later Get sees either the old or the
	// new value in full, never a mix.
	Put(ctx context.Context, data []byte) error
	// Get returns the staged image; found is false when nothing is staged.
	Get(ctx context.Context) (data []byte, found bool, err error)
	// Clear removes the staged image. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
	Close() error
}

// Options selects and locates the backend.
type Options struct {
	Backend    string
	SQLitePath string
	BadgerPath string
}

// Open returns the configured Store.
func Open(opts Options) (Store, error) {
	slog.Info("staging_open", "backend", opts.Backend)

	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case "", BackendSQLite:
		store, err = OpenSQLite(opts.SQLitePath)
	case BackendBadger:
		store, err = OpenBadger(opts.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown staging backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Checksum is the integrity tag stored next to staged bytes.
func Checksum(data []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64(data))
	return hex.EncodeToString(buf[:])
}

func verify(data []byte, checksum string) error {
	if got := Checksum(data); got != checksum {
		slog.Error("staging_checksum_mismatch", "stored", checksum, "computed", got, "size", len(data))
		return errors.Mark(fmt.Errorf("checksum mismatch: stored %s, computed %s", checksum, got), ErrStorageUnavailable)
	}
	return nil
}

func unavailable(err error, context string) error {
	return errors.Mark(errors.Wrap(err, context), ErrStorageUnavailable)
}
