//go:build windows
// +build windows

package importer

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/fly-io/poolimport/pkg/errors"
)

// ExecRestarter starts Argv as a new process and exits the current one.
type ExecRestarter struct {
	Argv []string
}

// Restart starts Argv and exits. It only returns on failure.
func (r ExecRestarter) Restart() error {
	if len(r.Argv) == 0 {
		return errors.New("restart command is empty")
	}
	cmd := exec.Command(r.Argv[0], r.Argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start replacement process")
	}
	slog.Info("process_respawned", "pid", cmd.Process.Pid, "argv", r.Argv)
	os.Exit(0)
	return nil
}
