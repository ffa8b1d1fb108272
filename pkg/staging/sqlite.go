package staging

import (
	"context"
	"log/slog"

	"github.com/fly-io/poolimport/pkg/db"
)

// SQLiteStore keeps the staged image in the staged_images table.
type SQLiteStore struct {
	repo *db.Repository
}

// OpenSQLite opens the staging table in the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	repo, err := db.NewRepository(path)
	if err != nil {
		return nil, unavailable(err, "failed to open sqlite staging store")
	}
	return &SQLiteStore{repo: repo}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, data []byte) error {
	if err := s.repo.PutStaged(ctx, Key, data, Checksum(data)); err != nil {
		return unavailable(err, "failed to stage image")
	}
	slog.Info("staging_put_complete", "backend", BackendSQLite, "size", len(data))
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context) ([]byte, bool, error) {
	st, err := s.repo.GetStaged(ctx, Key)
	if err != nil {
		return nil, false, unavailable(err, "failed to read staged image")
	}
	if st == nil {
		return nil, false, nil
	}
	if err := verify(st.Bytes, st.Checksum); err != nil {
		return nil, false, err
	}
	return st.Bytes, true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.repo.DeleteStaged(ctx, Key); err != nil {
		return unavailable(err, "failed to clear staged image")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.repo.Close()
}
