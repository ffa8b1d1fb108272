package db

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "imports.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)

	imp := &Import{
		Source: "backup.db",
		SHA256: "abc123",
		Size:   4096,
		Status: StatusStaged,
	}

	if err := repo.Create(imp); err != nil {
		t.Fatalf("failed to create import: %v", err)
	}
	if imp.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	retrieved, err := repo.Get(imp.ID)
	if err != nil {
		t.Fatalf("failed to get import: %v", err)
	}

	if retrieved.Source != imp.Source || retrieved.SHA256 != imp.SHA256 || retrieved.Size != imp.Size {
		t.Errorf("retrieved import mismatch: got %+v, want %+v", retrieved, imp)
	}

	missing, err := repo.Get(imp.ID + 100)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing import, got %+v, %v", missing, err)
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)

	imp := &Import{Source: "backup.db", SHA256: "abc123", Status: StatusStaged}
	repo.Create(imp)

	if err := repo.UpdateStatus(imp.ID, StatusFailed, "disk full"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.Get(imp.ID)
	if updated.Status != StatusFailed || updated.ErrorMessage != "disk full" {
		t.Errorf("status not updated: got %s (%q)", updated.Status, updated.ErrorMessage)
	}

	if err := repo.UpdateStatus(imp.ID+100, StatusFailed, ""); err == nil {
		t.Error("expected error updating a missing import")
	}

	if err := repo.UpdateStatus(imp.ID, "bogus", ""); err == nil {
		t.Error("expected CHECK constraint to reject unknown status")
	}
}

func TestRepository_MarkRecovered(t *testing.T) {
	repo := newTestRepo(t)

	imp := &Import{Source: "s3://bucket/key", SHA256: "def", Status: StatusWriting, ErrorMessage: "stale"}
	repo.Create(imp)

	if err := repo.MarkRecovered(imp.ID, 1<<20); err != nil {
		t.Fatalf("failed to mark recovered: %v", err)
	}

	got, _ := repo.Get(imp.ID)
	if got.Status != StatusRecovered || got.BytesWritten != 1<<20 || got.ErrorMessage != "" {
		t.Errorf("unexpected row after recovery: %+v", got)
	}
}

func TestRepository_ListAndPrune(t *testing.T) {
	repo := newTestRepo(t)

	for _, src := range []string{"one.db", "two.db", "three.db"} {
		repo.Create(&Import{Source: src, SHA256: "h", Status: StatusRecovered})
	}

	imports, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list imports: %v", err)
	}
	if len(imports) != 3 {
		t.Fatalf("expected 3 imports, got %d", len(imports))
	}
	if imports[0].Source != "three.db" {
		t.Errorf("expected newest first, got %s", imports[0].Source)
	}

	removed, err := repo.Prune(1)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	imports, _ = repo.List()
	if len(imports) != 1 || imports[0].Source != "three.db" {
		t.Errorf("unexpected imports after prune: %+v", imports)
	}

	if err := repo.Delete(imports[0].ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	imports, _ = repo.List()
	if len(imports) != 0 {
		t.Errorf("expected empty history, got %d", len(imports))
	}
}

func TestRepository_Staged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	st, err := repo.GetStaged(ctx, "dbBytes")
	if err != nil || st != nil {
		t.Fatalf("expected nothing staged, got %+v, %v", st, err)
	}

	if err := repo.PutStaged(ctx, "dbBytes", []byte("first"), "c1"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := repo.PutStaged(ctx, "dbBytes", []byte("second"), "c2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	st, err = repo.GetStaged(ctx, "dbBytes")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(st.Bytes, []byte("second")) || st.Checksum != "c2" {
		t.Errorf("expected latest value, got %q / %s", st.Bytes, st.Checksum)
	}

	if err := repo.DeleteStaged(ctx, "dbBytes"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.DeleteStaged(ctx, "dbBytes"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}

	st, _ = repo.GetStaged(ctx, "dbBytes")
	if st != nil {
		t.Error("expected staged value to be gone")
	}
}
