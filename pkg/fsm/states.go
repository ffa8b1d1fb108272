package fsm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/fly-io/poolimport/pkg/image"
	"github.com/fly-io/poolimport/pkg/security"
	"github.com/fly-io/poolimport/pkg/storage"
	"github.com/superfly/fsm"
)

// Stager persists a validated candidate for the next boot.
type Stager interface {
	Stage(ctx context.Context, candidate []byte, source string) (int64, error)
}

// Downloader fetches a remote candidate to a local file.
type Downloader interface {
	Download(ctx context.Context, key, localPath string) (*storage.DownloadResult, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	stager     Stager
	downloader Downloader
	validator  *security.Validator
	workDir    string

	mu      sync.Mutex
	failure error
}

// NewMachine creates a new FSM machine with dependencies. downloader may be
// nil when only local sources are imported.
func NewMachine(stager Stager, downloader Downloader, validator *security.Validator, workDir string) *Machine {
	return &Machine{
		stager:     stager,
		downloader: downloader,
		validator:  validator,
		workDir:    workDir,
	}
}

// Imports are never retried: a phase-one failure is reported to the caller,
// who may try again with another file. Every handler error is an abort.
func (m *Machine) abort(err error) error {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
	return fsm.Abort(err)
}

// Failure returns the error that aborted the last run, with its chain
// intact. The manager only reports the persisted failure message.
func (m *Machine) Failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// handleFetch makes the candidate available as a local file
func (m *Machine) handleFetch(ctx context.Context, req *fsm.Request[ImportRequest, ImportResponse]) (*fsm.Response[ImportResponse], error) {
	slog.Info("fsm_state_fetch", "source", req.Msg.Source, "from_s3", req.Msg.FromS3)

	resp := req.W.Msg
	if resp == nil {
		resp = &ImportResponse{}
	}

	if !req.Msg.FromS3 {
		info, err := os.Stat(req.Msg.Source)
		if err != nil {
			slog.Error("candidate_stat_failed", "source", req.Msg.Source, "error", err)
			return nil, m.abort(errors.Wrap(err, "candidate not readable"))
		}
		if !info.Mode().IsRegular() {
			return nil, m.abort(fmt.Errorf("candidate %s is not a regular file", req.Msg.Source))
		}
		resp.DownloadPath = req.Msg.Source
		resp.DownloadSize = info.Size()
		return fsm.NewResponse(resp), nil
	}

	if m.downloader == nil {
		return nil, m.abort(fmt.Errorf("no remote source configured"))
	}
	if err := m.validator.ValidateObjectKey(req.Msg.Source); err != nil {
		return nil, m.abort(err)
	}

	localPath := downloadPath(m.workDir, req.Msg.Source)
	slog.Info("download_started", "s3_key", req.Msg.Source, "local_path", localPath)

	result, err := m.downloader.Download(ctx, req.Msg.Source, localPath)
	if err != nil {
		slog.Error("download_failed", "s3_key", req.Msg.Source, "error", err)
		return nil, m.abort(errors.Wrap(err, "failed to download from S3"))
	}

	resp.SHA256 = result.SHA256
	resp.DownloadPath = result.LocalPath
	resp.DownloadSize = result.Size

	return fsm.NewResponse(resp), nil
}

// handleValidate checks the candidate holds a database image within limits
func (m *Machine) handleValidate(ctx context.Context, req *fsm.Request[ImportRequest, ImportResponse]) (*fsm.Response[ImportResponse], error) {
	slog.Info("fsm_state_validate", "source", req.Msg.Source)

	resp := req.W.Msg
	if resp == nil {
		return nil, m.abort(fmt.Errorf("response not initialized"))
	}

	offset, err := inspectCandidate(resp.DownloadPath)
	if err != nil {
		slog.Error("candidate_validation_failed", "source", req.Msg.Source, "error", err)
		return nil, m.abort(err)
	}

	resp.PayloadOffset = offset
	resp.PayloadSize = resp.DownloadSize - int64(offset)

	if err := m.validator.ValidateImageSize(resp.PayloadSize); err != nil {
		return nil, m.abort(err)
	}

	slog.Info("candidate_validated", "source", req.Msg.Source, "payload_offset", offset, "payload_size", resp.PayloadSize)

	return fsm.NewResponse(resp), nil
}

// handleStage reads the candidate and hands it to the stager
func (m *Machine) handleStage(ctx context.Context, req *fsm.Request[ImportRequest, ImportResponse]) (*fsm.Response[ImportResponse], error) {
	slog.Info("fsm_state_stage", "source", req.Msg.Source)

	resp := req.W.Msg
	if resp == nil {
		return nil, m.abort(fmt.Errorf("response not initialized"))
	}

	data, err := os.ReadFile(resp.DownloadPath)
	if err != nil {
		slog.Error("candidate_read_failed", "path", resp.DownloadPath, "error", err)
		return nil, m.abort(errors.Wrap(err, "failed to read candidate"))
	}

	id, err := m.stager.Stage(ctx, data, req.Msg.Source)
	if err != nil {
		return nil, m.abort(err)
	}
	resp.ImportID = id

	return fsm.NewResponse(resp), nil
}

// handleComplete removes downloads and marks the run staged
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[ImportRequest, ImportResponse]) (*fsm.Response[ImportResponse], error) {
	slog.Info("fsm_state_complete", "source", req.Msg.Source)

	resp := req.W.Msg
	if resp == nil {
		resp = &ImportResponse{}
	}

	if req.Msg.FromS3 && resp.DownloadPath != "" {
		if err := os.Remove(resp.DownloadPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("download_cleanup_failed", "path", resp.DownloadPath, "error", err)
		}
	}

	resp.Status = StatusStaged
	slog.Info("fsm_complete", "source", req.Msg.Source, "import_id", resp.ImportID, "status", resp.Status)

	return fsm.NewResponse(resp), nil
}

func downloadPath(workDir, key string) string {
	return filepath.Join(workDir, "downloads", filepath.Base(key))
}

// inspectCandidate reads just enough of path to locate the database image.
func inspectCandidate(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open candidate")
	}
	defer f.Close()

	head := make([]byte, image.PoolHeaderSize+image.MinSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, errors.Wrap(err, "failed to read candidate")
	}
	return image.Offset(head[:n])
}
