package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var (
	dataKey     = []byte(Key)
	checksumKey = []byte(Key + ".xxh64")
)

// BadgerStore keeps the staged image in an embedded Badger database.
// Data and checksum are written in one transaction.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) a Badger store in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, unavailable(err, "failed to create badger directory")
	}

	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("badger_open_failed", "dir", dir, "error", err)
		return nil, unavailable(err, "failed to open badger staging store")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey, data); err != nil {
			return err
		}
		return txn.Set(checksumKey, []byte(Checksum(data)))
	})
	if err != nil {
		slog.Error("staging_put_failed", "backend", BackendBadger, "error", err)
		return unavailable(err, "failed to stage image")
	}
	slog.Info("staging_put_complete", "backend", BackendBadger, "size", len(data))
	return nil
}

func (s *BadgerStore) Get(ctx context.Context) ([]byte, bool, error) {
	var data, checksum []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey)
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(checksumKey)
		if err != nil {
			return err
		}
		checksum, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err, "failed to read staged image")
	}
	if err := verify(data, string(checksum)); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(dataKey); err != nil {
			return err
		}
		return txn.Delete(checksumKey)
	})
	if err != nil {
		return unavailable(err, "failed to clear staged image")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
