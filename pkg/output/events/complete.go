package events

import "time"

// CompleteEvent is emitted when a run reaches a terminal state.
type CompleteEvent struct {
	BaseEvent
	Target     string        `json:"target"`
	State      string        `json:"state"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	ExitReason string        `json:"exit_reason,omitempty"`
	Ports      []int         `json:"ports,omitempty"`
	WebPorts   []int         `json:"web_ports,omitempty"`
	Launched   int           `json:"launched"`
	Failed     int           `json:"failed_launches"`
	Duration   time.Duration `json:"duration_ns,format:nano"`
}
