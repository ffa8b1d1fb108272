// Package poolfs reads and writes the pooled virtual filesystem used by the
// storage engine: a fixed number of sibling slot files, each with a 4096-byte
// header naming the virtual file it holds, followed by that file's bytes.
package poolfs

import (
	"fmt"
	"path"
)

// Header layout. Offsets are relative to the start of a slot file.
const (
	HeaderMaxPathSize  = 512
	HeaderFlagsSize    = 4
	HeaderCorpusSize   = HeaderMaxPathSize + HeaderFlagsSize
	HeaderOffsetFlags  = HeaderMaxPathSize
	HeaderOffsetDigest = HeaderCorpusSize
	HeaderDigestSize   = 8
	HeaderOffsetData   = 4096
)

const (
	// OpenMainDB is the open-flags value the engine stores for its main database.
	OpenMainDB uint32 = 0x00000100

	// DefaultCapacity is the engine's initial pool size.
	DefaultCapacity = 6

	// journalModeOffset locates the file-format write/read version bytes inside
	// the database header. Setting both to 1 selects rollback-journal mode.
	journalModeOffset = 18
)

// Layout describes where the pool lives under the storage root and what it holds.
type Layout struct {
	// VFSDir is the engine's top-level directory under the storage root.
	VFSDir string
	// OpaqueDir holds the slot files, nested inside VFSDir.
	OpaqueDir string
	// VirtualPath is the canonical path the engine opens as its main database.
	VirtualPath string
	// Capacity is the number of slot files in the pool.
	Capacity int
}

// DefaultLayout returns the layout used when nothing is configured.
func DefaultLayout() Layout {
	return Layout{
		VFSDir:      ".sahpool",
		OpaqueDir:   ".opaque",
		VirtualPath: "/main.db",
		Capacity:    DefaultCapacity,
	}
}

// PoolDir is the slot directory relative to the storage root.
func (l Layout) PoolDir() string {
	return path.Join("/", l.VFSDir, l.OpaqueDir)
}

// Validate checks the layout can be encoded into slot headers.
func (l Layout) Validate() error {
	if l.VFSDir == "" || l.OpaqueDir == "" {
		return fmt.Errorf("pool directories must be named")
	}
	if l.Capacity < 1 {
		return fmt.Errorf("pool capacity must be at least 1, got %d", l.Capacity)
	}
	if l.VirtualPath == "" {
		return fmt.Errorf("virtual path cannot be empty")
	}
	if len(l.VirtualPath) >= HeaderMaxPathSize {
		return fmt.Errorf("virtual path is %d bytes, limit is %d", len(l.VirtualPath), HeaderMaxPathSize-1)
	}
	return nil
}
