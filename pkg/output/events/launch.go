package events

// LaunchEvent records one enumeration tool started against a web port.
// Error is set when the launch failed.
type LaunchEvent struct {
	BaseEvent
	Role    string `json:"role"`
	Tool    string `json:"tool"`
	Port    int    `json:"port"`
	URL     string `json:"url"`
	Command string `json:"command"`
	Report  string `json:"report"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the launch failed.
func (e LaunchEvent) Failed() bool { return e.Error != "" }
