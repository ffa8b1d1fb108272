//go:build !windows
// +build !windows

package poolfs

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fly-io/poolimport/pkg/errors"
	"golang.org/x/sys/unix"
)

// acquireExclusive takes a non-blocking flock on lockPath. The engine holds
// the same lock while it has the pool open, so failing here means another
// process owns the storage root.
func acquireExclusive(lockPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		slog.Error("pool_lock_busy", "lock_path", lockPath, "error", err)
		return nil, errors.Wrap(err, "storage root is locked by another process")
	}

	slog.Info("pool_lock_acquired", "lock_path", lockPath)
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		slog.Info("pool_lock_released", "lock_path", lockPath)
	}, nil
}
