package db

// Schema defines the SQLite schema for import bookkeeping.
// imports is the history of every staged import and how its resume ended;
// staged_images holds the single pending candidate image under a fixed key.
const Schema = `
CREATE TABLE IF NOT EXISTS imports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('staged', 'writing', 'recovered', 'failed', 'abandoned')),
    bytes_written INTEGER,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_imports_status ON imports(status);
CREATE INDEX IF NOT EXISTS idx_imports_created_at ON imports(created_at);

CREATE TABLE IF NOT EXISTS staged_images (
    key TEXT PRIMARY KEY,
    bytes BLOB NOT NULL,
    checksum TEXT NOT NULL,
    staged_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Status constants
const (
	StatusStaged    = "staged"
	StatusWriting   = "writing"
	StatusRecovered = "recovered"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// Import is one row of the import history.
type Import struct {
	ID           int64
	Source       string
	SHA256       string
	Size         int64
	Status       string
	BytesWritten int64
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Staged is the pending candidate image as stored.
type Staged struct {
	Bytes    []byte
	Checksum string
	StagedAt string
}
