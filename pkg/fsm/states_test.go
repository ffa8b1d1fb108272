package fsm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fly-io/poolimport/pkg/image"
	"github.com/fly-io/poolimport/pkg/security"
	"github.com/superfly/fsm"
)

func writeCandidate(t *testing.T, prefix int, size int) string {
	t.Helper()
	b := make([]byte, prefix+size)
	copy(b[prefix:], image.Magic+"\x00")
	p := filepath.Join(t.TempDir(), "candidate.db")
	if err := os.WriteFile(p, b, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInspectCandidate(t *testing.T) {
	tests := []struct {
		name       string
		prefix     int
		size       int
		wantOffset int
		wantErr    bool
	}{
		{"plain database", 0, 8192, 0, false},
		{"small database", 0, image.MinSize, 0, false},
		{"pool slot dump", image.PoolHeaderSize, 8192, image.PoolHeaderSize, false},
		{"pool slot with minimal image", image.PoolHeaderSize, image.MinSize, image.PoolHeaderSize, false},
		{"magic at wrong offset", 512, 8192, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, err := inspectCandidate(writeCandidate(t, tt.prefix, tt.size))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", offset, tt.wantOffset)
			}
		})
	}
}

func TestInspectCandidate_TooShort(t *testing.T) {
	p := filepath.Join(t.TempDir(), "short.db")
	if err := os.WriteFile(p, []byte(image.Magic), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := inspectCandidate(p); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestInspectCandidate_Missing(t *testing.T) {
	if _, err := inspectCandidate(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDownloadPath_StaysInWorkDir(t *testing.T) {
	got := downloadPath("/tmp/work", "backups/2026/app.db")
	if got != filepath.Join("/tmp/work", "downloads", "app.db") {
		t.Errorf("unexpected download path %s", got)
	}
}

func TestRunID_Unique(t *testing.T) {
	a, b := RunID("app.db"), RunID("app.db")
	if a == b {
		t.Error("run IDs must differ between runs of the same source")
	}
	if !strings.HasPrefix(a, "app.db#") {
		t.Errorf("run ID %s should carry its source", a)
	}
}

type recordingStager struct {
	calls  int
	data   []byte
	source string
}

func (s *recordingStager) Stage(ctx context.Context, candidate []byte, source string) (int64, error) {
	s.calls++
	s.data = candidate
	s.source = source
	return 42, nil
}

// TestHandlers_LocalImport drives every transition for a local pool-slot dump
func TestHandlers_LocalImport(t *testing.T) {
	ctx := context.Background()
	stager := &recordingStager{}
	m := NewMachine(stager, nil, security.NewValidator(0), t.TempDir())

	path := writeCandidate(t, image.PoolHeaderSize, 8192)
	req := fsm.NewRequest(&ImportRequest{Source: path}, &ImportResponse{})

	for _, h := range []func(context.Context, *fsm.Request[ImportRequest, ImportResponse]) (*fsm.Response[ImportResponse], error){
		m.handleFetch, m.handleValidate, m.handleStage, m.handleComplete,
	} {
		out, err := h(ctx, req)
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		req.W.Msg = out.Msg
	}

	resp := req.W.Msg
	if resp.DownloadSize != int64(image.PoolHeaderSize+8192) {
		t.Errorf("download size = %d", resp.DownloadSize)
	}
	if resp.PayloadOffset != image.PoolHeaderSize || resp.PayloadSize != 8192 {
		t.Errorf("payload = offset %d size %d, want %d/8192", resp.PayloadOffset, resp.PayloadSize, image.PoolHeaderSize)
	}
	if resp.ImportID != 42 || resp.Status != StatusStaged {
		t.Errorf("import_id = %d status = %s", resp.ImportID, resp.Status)
	}
	if stager.calls != 1 || stager.source != path || len(stager.data) != image.PoolHeaderSize+8192 {
		t.Errorf("stager got %d calls, source %s, %d bytes", stager.calls, stager.source, len(stager.data))
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("local candidates must not be removed on completion")
	}
	if m.Failure() != nil {
		t.Errorf("unexpected failure recorded: %v", m.Failure())
	}
}

// TestHandleValidate_KeepsInvalidFormatCause checks the run's abort cause
// still matches image.ErrInvalidFormat for the caller
func TestHandleValidate_KeepsInvalidFormatCause(t *testing.T) {
	ctx := context.Background()
	stager := &recordingStager{}
	m := NewMachine(stager, nil, security.NewValidator(0), t.TempDir())

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a database ", 400)), 0644); err != nil {
		t.Fatal(err)
	}
	req := fsm.NewRequest(&ImportRequest{Source: path}, &ImportResponse{})

	out, err := m.handleFetch(ctx, req)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	req.W.Msg = out.Msg

	_, err = m.handleValidate(ctx, req)
	if err == nil {
		t.Fatal("expected validation to abort")
	}
	var abort *fsm.AbortError
	if !errors.As(err, &abort) {
		t.Errorf("expected an abort, got %T", err)
	}
	if !errors.Is(m.Failure(), image.ErrInvalidFormat) {
		t.Errorf("failure = %v, want ErrInvalidFormat", m.Failure())
	}
	if stager.calls != 0 {
		t.Error("invalid candidates must not be staged")
	}
}
