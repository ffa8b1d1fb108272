package staging

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendCase struct {
	name string
	opts func(dir string) Options
}

var backends = []backendCase{
	{"sqlite", func(dir string) Options {
		return Options{Backend: BackendSQLite, SQLitePath: filepath.Join(dir, "staging.db")}
	}},
	{"badger", func(dir string) Options {
		return Options{Backend: BackendBadger, BadgerPath: filepath.Join(dir, "badger")}
	}},
}

func TestStore_RoundTrip(t *testing.T) {
	for _, bc := range backends {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(bc.opts(t.TempDir()))
			require.NoError(t, err)
			defer s.Close()

			_, found, err := s.Get(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			data := bytes.Repeat([]byte{0x5A, 0x00, 0xFF}, 700_000)
			require.NoError(t, s.Put(ctx, data))

			got, found, err := s.Get(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, bytes.Equal(data, got))

			require.NoError(t, s.Put(ctx, []byte("replacement")))
			got, _, err = s.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("replacement"), got)

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx), "clear must be idempotent")
			_, found, err = s.Get(ctx)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	for _, bc := range backends {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			opts := bc.opts(t.TempDir())

			s, err := Open(opts)
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, []byte("SQLite format 3\x00 staged")))
			require.NoError(t, s.Close())

			s, err = Open(opts)
			require.NoError(t, err)
			defer s.Close()

			got, found, err := s.Get(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte("SQLite format 3\x00 staged"), got)
		})
	}
}

func TestSQLiteStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "staging.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.repo.PutStaged(ctx, Key, []byte("payload"), Checksum([]byte("other"))))

	_, found, err := s.Get(ctx)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "indexeddb"})
	assert.Error(t, err)
}

func TestOpen_UnwritableLocation(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(Options{Backend: BackendSQLite, SQLitePath: filepath.Join(dir, "missing", "sub", "staging.db")})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestChecksum_Stable(t *testing.T) {
	assert.Equal(t, Checksum([]byte("abc")), Checksum([]byte("abc")))
	assert.NotEqual(t, Checksum([]byte("abc")), Checksum([]byte("abd")))
	assert.Len(t, Checksum(nil), 16)
}
