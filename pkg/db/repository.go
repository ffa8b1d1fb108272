package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fly-io/poolimport/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for import history and staging
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the database at dbPath and applies the schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// dsn adds a busy timeout so the history and staging handles can share a file.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new import record
func (r *Repository) Create(imp *Import) error {
	slog.Info("database_create_import", "source", imp.Source, "status", imp.Status)

	query := `
		INSERT INTO imports (source, sha256, size, status, bytes_written, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		imp.Source, imp.SHA256, imp.Size, imp.Status, imp.BytesWritten, imp.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "source", imp.Source, "error", err)
		return errors.Wrap(err, "failed to insert import")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "source", imp.Source, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	imp.ID = id

	slog.Info("database_import_created", "source", imp.Source, "import_id", imp.ID, "status", imp.Status)
	return nil
}

const selectImport = `
	SELECT id, source, sha256, size, status,
	       bytes_written, error_message, created_at, updated_at
	FROM imports`

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(s scanner) (*Import, error) {
	var imp Import
	var bytesWritten sql.NullInt64
	var errorMessage sql.NullString

	if err := s.Scan(
		&imp.ID, &imp.Source, &imp.SHA256, &imp.Size, &imp.Status,
		&bytesWritten, &errorMessage, &imp.CreatedAt, &imp.UpdatedAt); err != nil {
		return nil, err
	}

	imp.BytesWritten = bytesWritten.Int64
	imp.ErrorMessage = errorMessage.String
	return &imp, nil
}

// Get retrieves an import by ID. It returns nil, nil when no row matches.
func (r *Repository) Get(id int64) (*Import, error) {
	slog.Info("database_query_import", "import_id", id)

	imp, err := scanImport(r.db.QueryRow(selectImport+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		slog.Info("database_import_not_found", "import_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "import_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query import")
	}

	return imp, nil
}

// UpdateStatus updates the status and error message of an import
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "import_id", id, "status", status)

	query := `UPDATE imports SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := r.db.Exec(query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "import_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "import_id", id, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_import_not_found_for_update", "import_id", id)
		return fmt.Errorf("import not found: id=%d", id)
	}

	slog.Info("database_status_updated", "import_id", id, "status", status)
	return nil
}

// MarkRecovered records a successful pool rebuild
func (r *Repository) MarkRecovered(id int64, bytesWritten int64) error {
	slog.Info("database_mark_recovered", "import_id", id, "bytes_written", bytesWritten)

	query := `
		UPDATE imports
		SET status = ?, bytes_written = ?, error_message = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, StatusRecovered, bytesWritten, id); err != nil {
		slog.Error("database_mark_recovered_failed", "import_id", id, "error", err)
		return errors.Wrap(err, "failed to mark import recovered")
	}
	return nil
}

// List retrieves all imports, newest first
func (r *Repository) List() ([]*Import, error) {
	slog.Info("database_list_imports")

	rows, err := r.db.Query(selectImport + ` ORDER BY id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list imports")
	}
	defer rows.Close()

	var imports []*Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		imports = append(imports, imp)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "import_count", len(imports))
	return imports, nil
}

// Delete deletes an import by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_import", "import_id", id)

	if _, err := r.db.Exec(`DELETE FROM imports WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "import_id", id, "error", err)
		return errors.Wrap(err, "failed to delete import")
	}

	slog.Info("database_import_deleted", "import_id", id)
	return nil
}

// Prune deletes all but the newest keep imports and returns how many were removed
func (r *Repository) Prune(keep int) (int64, error) {
	slog.Info("database_prune_imports", "keep", keep)

	query := `DELETE FROM imports WHERE id NOT IN (SELECT id FROM imports ORDER BY id DESC LIMIT ?)`
	result, err := r.db.Exec(query, keep)
	if err != nil {
		slog.Error("database_prune_failed", "error", err)
		return 0, errors.Wrap(err, "failed to prune imports")
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	slog.Info("database_prune_complete", "removed", removed)
	return removed, nil
}

// PutStaged stores data under key, replacing any previous value in one statement
func (r *Repository) PutStaged(ctx context.Context, key string, data []byte, checksum string) error {
	slog.Info("database_put_staged", "key", key, "size", len(data))

	query := `
		INSERT INTO staged_images (key, bytes, checksum, staged_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
		    bytes = excluded.bytes, checksum = excluded.checksum, staged_at = excluded.staged_at
	`
	if _, err := r.db.ExecContext(ctx, query, key, data, checksum); err != nil {
		slog.Error("database_put_staged_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to store staged image")
	}
	return nil
}

// GetStaged loads the value under key. It returns nil, nil when nothing is staged.
func (r *Repository) GetStaged(ctx context.Context, key string) (*Staged, error) {
	slog.Info("database_get_staged", "key", key)

	var st Staged
	err := r.db.QueryRowContext(ctx,
		`SELECT bytes, checksum, staged_at FROM staged_images WHERE key = ?`, key).
		Scan(&st.Bytes, &st.Checksum, &st.StagedAt)
	if err == sql.ErrNoRows {
		slog.Info("database_staged_not_found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_get_staged_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to read staged image")
	}
	return &st, nil
}

// DeleteStaged removes the value under key. Deleting a missing key is not an error.
func (r *Repository) DeleteStaged(ctx context.Context, key string) error {
	slog.Info("database_delete_staged", "key", key)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM staged_images WHERE key = ?`, key); err != nil {
		slog.Error("database_delete_staged_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to delete staged image")
	}
	return nil
}
