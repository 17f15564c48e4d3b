package pipeline

// State is a node of the run's state machine.
type State string

const (
	StateValidating      State = "validating"
	StatePortScanning    State = "port_scanning"
	StateServiceScanning State = "service_scanning"
	StateDeciding        State = "deciding"
	StateEnumerating     State = "enumerating"
	StateAttached        State = "attached"
	StateFailed          State = "failed"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateValidating:      {StatePortScanning, StateFailed},
	StatePortScanning:    {StateServiceScanning, StateAttached, StateFailed},
	StateServiceScanning: {StateDeciding, StateFailed},
	StateDeciding:        {StateEnumerating, StateAttached, StateFailed},
	StateEnumerating:     {StateAttached, StateFailed},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateAttached || s == StateFailed
}

// Label is the human-facing name of the state.
func (s State) Label() string {
	switch s {
	case StatePortScanning:
		return "port scan"
	case StateServiceScanning:
		return "service scan"
	case StateEnumerating:
		return "enumeration"
	default:
		return string(s)
	}
}
