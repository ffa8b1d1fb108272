//go:build !windows
// +build !windows

package importer

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/fly-io/poolimport/pkg/errors"
	"golang.org/x/sys/unix"
)

// ExecRestarter replaces the current process image with Argv, keeping the
// PID and environment. Supervisors see one continuous process.
type ExecRestarter struct {
	Argv []string
}

// Restart execs Argv. It only returns on failure.
func (r ExecRestarter) Restart() error {
	if len(r.Argv) == 0 {
		return errors.New("restart command is empty")
	}
	bin, err := exec.LookPath(r.Argv[0])
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", r.Argv[0])
	}
	slog.Info("process_exec", "path", bin, "argv", r.Argv)
	return errors.Wrap(unix.Exec(bin, r.Argv, os.Environ()), "exec failed")
}
