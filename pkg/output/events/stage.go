package events

import "time"

// StageEvent records a transition of the run's state machine.
// Elapsed is the time spent in From.
type StageEvent struct {
	BaseEvent
	From    string        `json:"from"`
	To      string        `json:"to"`
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns,format:nano"`
}
