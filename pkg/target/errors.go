package target

import "fmt"

// InvalidTargetError reports a target that failed validation.
// No subprocess is ever started for such a target.
type InvalidTargetError struct {
	Input  string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Input, e.Reason)
}
