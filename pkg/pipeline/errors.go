package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tmux"
)

// Sentinel errors for pipeline runs.
// Callers should use errors.Is() to check for these.
var (
	// ErrCancelled means the run was interrupted by the user or a signal.
	ErrCancelled = errors.New("run cancelled")

	// ErrStageTimeout means a stage exceeded its time budget.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrNonZeroExit means a stage tool exited unsuccessfully.
	ErrNonZeroExit = errors.New("tool exited with non-zero status")

	// ErrInvalidTransition is a programming error in stage sequencing.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ScanExecutionError is a failure to run a scan stage or read its report.
type ScanExecutionError struct {
	Stage    State
	Tool     string
	ExitCode int
	Err      error
}

func (e *ScanExecutionError) Error() string {
	if errors.Is(e.Err, ErrNonZeroExit) {
		return fmt.Sprintf("%s: %s exited with status %d", e.Stage.Label(), e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage.Label(), e.Tool, e.Err)
}

func (e *ScanExecutionError) Unwrap() error {
	return e.Err
}

// cancelled wraps a context error so callers can match ErrCancelled.
func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return defaults.ExitSuccess
	}

	var (
		invalid *target.InvalidTargetError
		missing *deps.MissingDependencyError
		scanErr *ScanExecutionError
		session *tmux.SessionError
	)
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return defaults.ExitCancelled
	case errors.As(err, &invalid):
		return defaults.ExitUserError
	case errors.As(err, &missing):
		return defaults.ExitMissingDependency
	case errors.As(err, &scanErr):
		return defaults.ExitScanFailure
	case errors.As(err, &session):
		return defaults.ExitSessionError
	default:
		return defaults.ExitInternalError
	}
}
