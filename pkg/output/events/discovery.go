package events

import "github.com/recondrone/drone/pkg/scan"

// PortsEvent carries the open ports in first-seen order.
type PortsEvent struct {
	BaseEvent
	Target string `json:"target"`
	Ports  []int  `json:"ports"`
	Report string `json:"report"`
}

// FindingsEvent carries one finding per scanned port.
type FindingsEvent struct {
	BaseEvent
	Target   string                `json:"target"`
	Findings []scan.ServiceFinding `json:"findings"`
	Partial  bool                  `json:"partial,omitempty"`
	Report   string                `json:"report"`
}

// WebCount returns how many findings speak HTTP.
func (e FindingsEvent) WebCount() int {
	return len(scan.WebOnly(e.Findings))
}
