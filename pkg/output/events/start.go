package events

// StartEvent is emitted once the target is validated.
type StartEvent struct {
	BaseEvent
	Target    string `json:"target"`
	Mode      string `json:"mode"`
	Session   string `json:"session,omitempty"`
	Window    string `json:"window,omitempty"`
	OutputDir string `json:"output_dir"`
	Version   string `json:"version"`
}
