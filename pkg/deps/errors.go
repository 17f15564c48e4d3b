package deps

import "fmt"

// Failure reasons carried by MissingDependencyError.
const (
	ReasonNotFound    = "not found in PATH"
	ReasonTimeout     = "version check timed out"
	ReasonExitStatus  = "version check exited with status"
	ReasonNotRunnable = "cannot be executed"
)

// MissingDependencyError reports a required external tool that is absent
// or unusable.
type MissingDependencyError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %s: %s", e.Tool, e.Reason)
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Err
}
