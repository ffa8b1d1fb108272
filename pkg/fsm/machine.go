// Package fsm implements the phase-one import workflow. It fetches a
// candidate database image (from disk or S3), validates it and stages it
// for the next boot using the superfly/fsm library.
package fsm

import (
	"context"

	"github.com/fly-io/poolimport/pkg/errors"
	"github.com/google/uuid"
	"github.com/superfly/fsm"
)

// Register registers the import FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ImportRequest, ImportResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ImportRequest, ImportResponse](manager, "db-import").
		Start(StateFetch, m.handleFetch).
		To(StateValidate, m.handleValidate).
		To(StateStage, m.handleStage).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// RunID returns a fresh identifier for one import run. Sources are not
// unique across runs: the same file may be imported again.
func RunID(source string) string {
	return source + "#" + uuid.NewString()
}
