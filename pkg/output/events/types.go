// Package events defines the records a drone run emits. Every state
// change, discovery and launch becomes one event; writers persist them
// and hooks turn them into logs, metrics and traces.
//
// All events embed BaseEvent and serialize to flat JSON objects.
package events

import "time"

// EventType represents the type of run event.
type EventType string

const (
	// EventTypeStart indicates a run has started.
	EventTypeStart EventType = "start"
	// EventTypeStage indicates a pipeline state transition.
	EventTypeStage EventType = "stage"
	// EventTypePorts carries the open ports from the fast scan.
	EventTypePorts EventType = "ports"
	// EventTypeFindings carries the service scan findings.
	EventTypeFindings EventType = "findings"
	// EventTypeLaunch records one enumeration tool launch.
	EventTypeLaunch EventType = "launch"
	// EventTypeWarning records a non-fatal problem.
	EventTypeWarning EventType = "warning"
	// EventTypeComplete indicates a run has finished.
	EventTypeComplete EventType = "complete"
)

// Event is the base interface for all events.
type Event interface {
	EventType() EventType
	Timestamp() time.Time
	RunID() string
}

// BaseEvent contains common fields for all events.
// It is designed to be embedded in specific event types.
type BaseEvent struct {
	Type EventType `json:"type"`
	Time time.Time `json:"timestamp"`
	Run  string    `json:"run_id"`
}

// NewBase returns a BaseEvent stamped with the current time.
func NewBase(t EventType, runID string) BaseEvent {
	return BaseEvent{Type: t, Time: time.Now(), Run: runID}
}

// EventType returns the type of this event.
func (e BaseEvent) EventType() EventType { return e.Type }

// Timestamp returns when this event occurred.
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// RunID returns the identifier of the run that produced this event.
func (e BaseEvent) RunID() string { return e.Run }
