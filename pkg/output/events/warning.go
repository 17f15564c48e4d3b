package events

// WarningEvent records a problem the run continued past.
type WarningEvent struct {
	BaseEvent
	Stage   string `json:"stage"`
	Message string `json:"message"`
}
