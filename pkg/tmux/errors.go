package tmux

import (
	"errors"
	"fmt"
)

// Sentinel errors for session handling.
var (
	ErrNotEnsured  = errors.New("tmux: session not ensured")
	ErrNoTerminal  = errors.New("tmux: stdin is not a terminal")
	ErrNoExitCode  = errors.New("tmux: pane command left no exit status")
	ErrBadResponse = errors.New("tmux: unexpected response")
)

// SessionError is any failure to create, lay out, drive or attach the
// tmux session.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func sessionErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Op: op, Err: err}
}
