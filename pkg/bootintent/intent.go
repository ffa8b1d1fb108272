// Package bootintent stores the small record that tells the next process
// lifetime what to do before anything opens the database.
//
// The record is read once at startup, before the heavier staging store is
// touched, and handed to the resume logic by value.
package bootintent

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fly-io/poolimport/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Intent is the persisted boot intent.
type Intent struct {
	PendingImport bool      `yaml:"pending_import"`
	ImportID      int64     `yaml:"import_id,omitempty"`
	Source        string    `yaml:"source,omitempty"`
	Size          int       `yaml:"size,omitempty"`
	StagedAt      time.Time `yaml:"staged_at,omitempty"`
}

// File persists an Intent at a fixed path.
type File struct {
	path string
}

// NewFile returns a File stored at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the record location.
func (f *File) Path() string { return f.path }

// Load reads the intent. A missing file yields the zero Intent.
func (f *File) Load() (Intent, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Intent{}, nil
		}
		slog.Error("boot_intent_read_failed", "path", f.path, "error", err)
		return Intent{}, errors.Wrap(err, "failed to read boot intent")
	}

	var in Intent
	if err := yaml.Unmarshal(data, &in); err != nil {
		slog.Error("boot_intent_decode_failed", "path", f.path, "error", err)
		return Intent{}, errors.Wrap(err, "failed to decode boot intent")
	}
	return in, nil
}

// Save writes the intent with write-temp, fsync, rename so a crash leaves
// either the previous record or the new one.
func (f *File) Save(in Intent) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to encode boot intent")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create boot intent directory")
	}

	tmp := f.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create temp boot intent")
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return errors.Wrap(err, "failed to write temp boot intent")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.Wrap(err, "failed to sync temp boot intent")
	}
	// Close before rename for Windows.
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp boot intent")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "failed to install boot intent")
	}

	slog.Info("boot_intent_saved", "path", f.path, "pending_import", in.PendingImport, "import_id", in.ImportID)
	return nil
}

// Clear removes the record. Clearing a missing record is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		slog.Error("boot_intent_clear_failed", "path", f.path, "error", err)
		return errors.Wrap(err, "failed to clear boot intent")
	}
	slog.Info("boot_intent_cleared", "path", f.path)
	return nil
}
