package poolfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(size int) []byte {
	b := make([]byte, size)
	copy(b, "SQLite format 3\x00")
	b[18], b[19] = 2, 2 // WAL mode
	for i := 100; i < size; i++ {
		b[i] = byte(i * 7)
	}
	return b
}

func TestWriter_RebuildsPool(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()
	payload := testImage(1 << 20)
	want := append([]byte(nil), payload...)

	n, err := NewWriter(root, layout).Write(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, n)

	fs := OpenRoot(root)
	slots, err := ReadSlots(fs, layout)
	require.NoError(t, err)
	require.Len(t, slots, DefaultCapacity)

	assigned := 0
	for _, s := range slots {
		require.True(t, s.Valid, "slot %s has a bad digest", s.Name)
		if s.Header.Path == "" {
			assert.Equal(t, int64(HeaderOffsetData), s.Size)
			assert.Zero(t, s.Header.Flags)
			continue
		}
		assigned++
		assert.Equal(t, layout.VirtualPath, s.Header.Path)
		assert.Equal(t, OpenMainDB, s.Header.Flags)
		assert.Equal(t, int64(HeaderOffsetData+len(want)), s.Size)
		assert.Equal(t, int64(len(want)), s.DataSize())

		raw, err := afero.ReadFile(fs, path.Join(layout.PoolDir(), s.Name))
		require.NoError(t, err)
		got := raw[HeaderOffsetData:]
		assert.Equal(t, []byte{1, 1}, got[18:20], "journal mode must be forced")
		got[18], got[19] = want[18], want[19]
		assert.True(t, bytes.Equal(want, got), "payload mismatch")
		assert.True(t, bytes.Equal(make([]byte, HeaderOffsetData-HeaderOffsetDigest-HeaderDigestSize),
			raw[HeaderOffsetDigest+HeaderDigestSize:HeaderOffsetData]), "reserved header bytes must be zero")
	}
	assert.Equal(t, 1, assigned)

	s, ok := FindAssigned(slots, layout.VirtualPath)
	assert.True(t, ok)
	assert.Equal(t, layout.VirtualPath, s.Header.Path)
}

func TestWriter_ReplacesExistingPool(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()
	fs := OpenRoot(root)

	stale := path.Join(layout.PoolDir(), "stale")
	require.NoError(t, fs.MkdirAll(layout.PoolDir(), 0755))
	require.NoError(t, afero.WriteFile(fs, stale, []byte("old"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/.sahpool/other", []byte("old"), 0644))

	_, err := NewWriter(root, layout).Write(context.Background(), testImage(4096))
	require.NoError(t, err)

	exists, err := afero.Exists(fs, stale)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "/.sahpool/other")
	require.NoError(t, err)
	assert.False(t, exists)

	found, err := VerifyCapacity(fs, layout)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, found)
}

func TestWriter_CustomCapacity(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()
	layout.Capacity = 3
	layout.VirtualPath = "/evolu1.db"

	_, err := NewWriter(root, layout).Write(context.Background(), testImage(200))
	require.NoError(t, err)

	slots, err := ReadSlots(OpenRoot(root), layout)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
	_, ok := FindAssigned(slots, "/evolu1.db")
	assert.True(t, ok)
}

// failingFs fails the nth file creation.
type failingFs struct {
	afero.Fs
	failAt int32
	opened atomic.Int32
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.opened.Add(1) == f.failAt {
		return nil, fmt.Errorf("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestWriter_FailureIsNotRolledBack(t *testing.T) {
	mem := afero.NewMemMapFs()
	layout := DefaultLayout()
	var seq atomic.Int32
	w := &Writer{
		fs:      &failingFs{Fs: mem, failAt: 3},
		layout:  layout,
		newName: func() string { return fmt.Sprintf("slot%d", seq.Add(1)) },
	}

	_, err := w.Write(context.Background(), testImage(1024))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 3")
	assert.Contains(t, err.Error(), "disk full")

	entries, err := afero.ReadDir(mem, layout.PoolDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "slots written before the failure stay on disk")
}

func TestWriter_CancelledBeforeStart(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/.sahpool/.opaque/keep", []byte("x"), 0644))
	w := &Writer{fs: mem, layout: DefaultLayout(), newName: randomName}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Write(ctx, testImage(1024))
	assert.True(t, errors.Is(err, context.Canceled))

	exists, _ := afero.Exists(mem, "/.sahpool/.opaque/keep")
	assert.True(t, exists, "a cancelled write must not touch the pool")
}

func TestWriter_InvalidLayout(t *testing.T) {
	layout := DefaultLayout()
	layout.Capacity = 0
	_, err := NewWriter(t.TempDir(), layout).Write(context.Background(), testImage(1024))
	assert.Error(t, err)
}
