//go:build windows
// +build windows

package poolfs

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fly-io/poolimport/pkg/errors"
	"golang.org/x/sys/windows"
)

// acquireExclusive takes a non-blocking LockFileEx lock on lockPath. The
// lock belongs to the open handle, so it is released when the process exits
// even if release is never called.
func acquireExclusive(lockPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}

	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(h, flags, 0, 1, 0, ol); err != nil {
		f.Close()
		slog.Error("pool_lock_busy", "lock_path", lockPath, "error", err)
		return nil, errors.Wrap(err, "storage root is locked by another process")
	}

	return func() {
		_ = windows.UnlockFileEx(h, 0, 1, 0, ol)
		_ = f.Close()
	}, nil
}
