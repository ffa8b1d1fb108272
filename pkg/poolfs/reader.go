package poolfs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/spf13/afero"
)

// ErrCapacityMismatch means the pool on disk has a different number of slot
// files than the configured capacity.
var ErrCapacityMismatch = errors.New("pool capacity mismatch")

// Slot describes one file in the pool directory as the engine would see it.
type Slot struct {
	Name   string
	Size   int64
	Header Header
	// Valid is false when the header is truncated or its digest does not match.
	Valid bool
}

// Assigned reports whether the engine would treat the slot as holding a file.
func (s Slot) Assigned() bool { return s.Valid && s.Header.Assigned() }

// DataSize is the number of payload bytes after the header.
func (s Slot) DataSize() int64 {
	if s.Size <= HeaderOffsetData {
		return 0
	}
	return s.Size - HeaderOffsetData
}

// ReadSlots decodes the header of every regular file in the pool directory.
// The result is ordered by file name.
func ReadSlots(fs afero.Fs, layout Layout) ([]Slot, error) {
	poolDir := layout.PoolDir()
	entries, err := afero.ReadDir(fs, poolDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pool directory")
	}

	slots := make([]Slot, 0, len(entries))
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		slot, err := readSlot(fs, path.Join(poolDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		slot.Name = entry.Name()
		slot.Size = entry.Size()
		slots = append(slots, slot)
	}
	return slots, nil
}

func readSlot(fs afero.Fs, slotPath string) (Slot, error) {
	f, err := fs.Open(slotPath)
	if err != nil {
		return Slot{}, errors.Wrapf(err, "failed to open slot %s", slotPath)
	}
	defer f.Close()

	buf := make([]byte, HeaderCorpusSize+HeaderDigestSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Slot{}, nil
		}
		return Slot{}, errors.Wrapf(err, "failed to read slot %s", slotPath)
	}

	hdr, valid, err := DecodeHeader(buf)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Header: hdr, Valid: valid}, nil
}

// FindAssigned returns the slot holding virtualPath, if any.
func FindAssigned(slots []Slot, virtualPath string) (Slot, bool) {
	for _, s := range slots {
		if s.Assigned() && s.Header.Path == virtualPath {
			return s, true
		}
	}
	return Slot{}, false
}

// VerifyCapacity counts the slot files currently on disk. A missing or empty
// pool is not an error; any other count different from layout.Capacity
// returns ErrCapacityMismatch along with the count found.
func VerifyCapacity(fs afero.Fs, layout Layout) (int, error) {
	entries, err := afero.ReadDir(fs, layout.PoolDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read pool directory")
	}

	found := 0
	for _, entry := range entries {
		if entry.Mode().IsRegular() {
			found++
		}
	}

	if found != 0 && found != layout.Capacity {
		slog.Warn("pool_capacity_mismatch", "found", found, "configured", layout.Capacity)
		return found, fmt.Errorf("%w: found %d slot files, configured %d", ErrCapacityMismatch, found, layout.Capacity)
	}
	return found, nil
}
