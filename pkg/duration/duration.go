// Package duration provides canonical time constants for drone.
// This is the SINGLE SOURCE OF TRUTH for all time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.DependencyCheck)
//
// DO NOT use hardcoded time.Duration values like `30 * time.Second` anywhere.
// Instead, reference the appropriate constant from this package.
package duration

import "time"

// ============================================================================
// STAGE TIMEOUTS
// ============================================================================
//
// Upper bounds for the blocking stages. A full-range scan at --min-rate 1000
// normally finishes well inside PortScan; service detection with default
// scripts is slower per port.
// ============================================================================

const (
	// DependencyCheck bounds a single version query (10s)
	DependencyCheck = 10 * time.Second

	// PortScan bounds the fast full-range scan (45min)
	PortScan = 45 * time.Minute

	// ServiceScan bounds the detailed scan of the discovered ports (60min)
	ServiceScan = 60 * time.Minute

	// Enumeration bounds each headless fan-out tool (2h)
	Enumeration = 2 * time.Hour

	// StopLaunches bounds stopping already started fan-out tools after a
	// cancellation; longer than the process group grace period (10s)
	StopLaunches = 10 * time.Second
)

// ============================================================================
// TMUX
// ============================================================================

const (
	// TmuxCommand bounds a single non-blocking tmux invocation (5s)
	TmuxCommand = 5 * time.Second

	// SessionReady caps the delay between readiness checks after new-session (100ms)
	SessionReady = 100 * time.Millisecond

	// SessionReadyMax bounds the total wait for a new tmux server to answer (1s)
	SessionReadyMax = 1 * time.Second
)

// ============================================================================
// OBSERVABILITY
// ============================================================================

const (
	// MetricsShutdown bounds graceful shutdown of the metrics server (5s)
	MetricsShutdown = 5 * time.Second

	// MetricsWrite is the metrics server write timeout (10s)
	MetricsWrite = 10 * time.Second

	// OTelConnect bounds the initial OTLP exporter setup (10s)
	OTelConnect = 10 * time.Second

	// OTelShutdown bounds flushing spans on exit (5s)
	OTelShutdown = 5 * time.Second

	// OutputClose bounds flushing writers and hooks after a run (15s)
	OutputClose = 15 * time.Second
)
