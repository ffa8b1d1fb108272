// Package image recognises SQLite database images inside untrusted byte buffers.
package image

import (
	"bytes"
	"log/slog"

	"github.com/fly-io/poolimport/pkg/errors"
)

const (
	// Magic is the first 15 bytes of every SQLite database file.
	Magic = "SQLite format 3"

	// MinSize is the SQLite file header length. Anything shorter is rejected.
	MinSize = 100

	// PoolHeaderSize is the header carried by a raw pool-slot file in front of
	// the database payload.
	PoolHeaderSize = 4096
)

// ErrInvalidFormat is returned when no database image is found at offset 0
// or at PoolHeaderSize.
var ErrInvalidFormat = errors.New("invalid database image: no SQLite magic header found")

// IsDatabaseImage reports whether b starts with a SQLite header.
func IsDatabaseImage(b []byte) bool {
	return len(b) >= MinSize && bytes.Equal(b[:len(Magic)], []byte(Magic))
}

// Extract returns the database image contained in b.
//
// A plain database file is returned unchanged. A dumped pool-slot file is
// recognised by a valid image at PoolHeaderSize and that tail is returned;
// the result aliases b.
func Extract(b []byte) ([]byte, error) {
	if IsDatabaseImage(b) {
		return b, nil
	}

	if len(b) > PoolHeaderSize {
		if tail := b[PoolHeaderSize:]; IsDatabaseImage(tail) {
			slog.Info("image_extracted_from_pool_slot", "raw_size", len(b), "image_size", len(tail))
			return tail, nil
		}
	}

	slog.Error("image_invalid_format", "size", len(b))
	return nil, ErrInvalidFormat
}

// Offset returns the position of the image inside b, as Extract would find it.
func Offset(b []byte) (int, error) {
	img, err := Extract(b)
	if err != nil {
		return 0, err
	}
	return len(b) - len(img), nil
}
