// Package scan holds the data produced by the scan stages and the
// line-oriented parsers that extract it from scanner reports.
//
// Only the handful of facts the pipeline gates on are parsed: which ports
// are open and which of them speak HTTP. Everything else in a report is
// left for the operator to read.
package scan

import (
	"strconv"
	"strings"

	"github.com/recondrone/drone/pkg/defaults"
)

// PortSet is an ordered, duplicate-free sequence of open ports.
// The zero value is an empty set ready to use.
type PortSet struct {
	ports []int
	seen  map[int]struct{}
}

// NewPortSet builds a PortSet from ports, dropping duplicates and
// out-of-range values while keeping first-seen order.
func NewPortSet(ports ...int) PortSet {
	var ps PortSet
	for _, p := range ports {
		ps.Add(p)
	}
	return ps
}

// Add appends p if it is a valid port not already present.
// It reports whether the set changed.
func (ps *PortSet) Add(p int) bool {
	if p < defaults.MinPort || p > defaults.MaxPort {
		return false
	}
	if ps.seen == nil {
		ps.seen = make(map[int]struct{})
	}
	if _, dup := ps.seen[p]; dup {
		return false
	}
	ps.seen[p] = struct{}{}
	ps.ports = append(ps.ports, p)
	return true
}

// Contains reports whether p is in the set.
func (ps PortSet) Contains(p int) bool {
	_, ok := ps.seen[p]
	return ok
}

// Len returns the number of ports.
func (ps PortSet) Len() int { return len(ps.ports) }

// Empty reports whether no ports were found.
func (ps PortSet) Empty() bool { return len(ps.ports) == 0 }

// Ports returns a copy of the ports in first-seen order.
func (ps PortSet) Ports() []int {
	out := make([]int, len(ps.ports))
	copy(out, ps.ports)
	return out
}

// String renders the set as a scanner port list, e.g. "22,80,443".
func (ps PortSet) String() string {
	parts := make([]string, len(ps.ports))
	for i, p := range ps.ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
