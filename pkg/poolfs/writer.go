package poolfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// LockFileName is created in the storage root and flocked for the duration of
// a rebuild.
const LockFileName = ".pool.lock"

// OpenRoot returns a filesystem confined to the storage root.
func OpenRoot(root string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), root)
}

// Writer rebuilds the pool directory around a single database image.
type Writer struct {
	fs       afero.Fs
	layout   Layout
	lockPath string
	newName  func() string
}

// NewWriter returns a Writer for the pool under root.
func NewWriter(root string, layout Layout) *Writer {
	return &Writer{
		fs:       OpenRoot(root),
		layout:   layout,
		lockPath: filepath.Join(root, LockFileName),
		newName:  randomName,
	}
}

// Layout returns the layout the writer produces.
func (w *Writer) Layout() Layout { return w.layout }

func randomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type writeRequest struct {
	payload []byte
	layout  Layout
}

type writeResult struct {
	bytesWritten int
	err          error
}

// Write replaces the pool with a fresh one whose first slot holds payload
// under the layout's virtual path.
//
// Ownership of payload passes to the writer; callers must not touch it
// afterwards. The work runs on a dedicated, locked OS thread that is torn
// down when it finishes. ctx is only consulted before the old pool is
// deleted: once deletion starts the rebuild runs to completion or fails,
// and a failed rebuild is not rolled back.
func (w *Writer) Write(ctx context.Context, payload []byte) (int, error) {
	if err := w.layout.Validate(); err != nil {
		return 0, errors.Wrap(err, "invalid pool layout")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	requests := make(chan writeRequest, 1)
	results := make(chan writeResult, 1)

	go w.worker(requests, results)

	requests <- writeRequest{payload: payload, layout: w.layout}
	close(requests)

	res := <-results
	if res.err != nil {
		slog.Error("pool_write_failed", "pool_dir", w.layout.PoolDir(), "error", res.err)
		return res.bytesWritten, res.err
	}

	slog.Info("pool_write_complete", "pool_dir", w.layout.PoolDir(), "bytes_written", res.bytesWritten)
	return res.bytesWritten, nil
}

// worker handles exactly one request. It never calls UnlockOSThread, so the
// runtime discards the thread on return instead of reusing it.
func (w *Writer) worker(requests <-chan writeRequest, results chan<- writeResult) {
	runtime.LockOSThread()

	req := <-requests
	defer func() {
		if r := recover(); r != nil {
			results <- writeResult{err: fmt.Errorf("pool writer panicked: %v", r)}
		}
	}()

	n, err := w.rebuild(req)
	results <- writeResult{bytesWritten: n, err: err}
}

func (w *Writer) rebuild(req writeRequest) (int, error) {
	if w.lockPath != "" {
		release, err := acquireExclusive(w.lockPath)
		if err != nil {
			return 0, err
		}
		defer release()
	}

	layout := req.layout
	vfsDir := path.Join("/", layout.VFSDir)
	poolDir := layout.PoolDir()

	if err := w.fs.RemoveAll(vfsDir); err != nil && !os.IsNotExist(err) {
		return 0, errors.Wrap(err, "failed to remove existing pool")
	}
	slog.Info("pool_removed", "vfs_dir", vfsDir)

	if err := w.fs.MkdirAll(poolDir, 0755); err != nil {
		return 0, errors.Wrap(err, "failed to create pool directory")
	}

	written, err := w.writeSlot(poolDir, 1, layout, layout.VirtualPath, OpenMainDB, req.payload)
	if err != nil {
		return written, err
	}

	for i := 2; i <= layout.Capacity; i++ {
		if _, err := w.writeSlot(poolDir, i, layout, "", 0, nil); err != nil {
			return written, err
		}
	}

	return written, nil
}

func (w *Writer) writeSlot(poolDir string, index int, layout Layout, virtualPath string, flags uint32, payload []byte) (int, error) {
	name := w.newName()
	slotPath := path.Join(poolDir, name)

	f, err := w.fs.OpenFile(slotPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "slot %d: failed to create file", index)
	}

	n, err := fillSlot(f, virtualPath, flags, payload)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "slot %d", index)
	}

	if virtualPath == "" {
		slog.Info("pool_slot_written", "slot", index, "capacity", layout.Capacity, "file", name, "path", "(empty)")
	} else {
		slog.Info("pool_slot_written", "slot", index, "capacity", layout.Capacity, "file", name, "path", virtualPath, "data_bytes", n)
	}
	return n, nil
}

func fillSlot(f afero.File, virtualPath string, flags uint32, payload []byte) (int, error) {
	if err := f.Truncate(int64(HeaderOffsetData + len(payload))); err != nil {
		return 0, errors.Wrap(err, "failed to size file")
	}

	n := 0
	if len(payload) > 0 {
		var err error
		n, err = f.WriteAt(payload, HeaderOffsetData)
		if err != nil {
			return n, errors.Wrap(err, "failed to write payload")
		}
		if len(payload) >= journalModeOffset+2 {
			if _, err := f.WriteAt([]byte{1, 1}, HeaderOffsetData+journalModeOffset); err != nil {
				return n, errors.Wrap(err, "failed to reset journal mode")
			}
		}
	}

	hdr, err := EncodeHeader(virtualPath, flags)
	if err != nil {
		return n, err
	}
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return n, errors.Wrap(err, "failed to write header")
	}
	if err := f.Sync(); err != nil {
		return n, errors.Wrap(err, "failed to sync")
	}
	return n, nil
}
