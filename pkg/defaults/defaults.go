// Package defaults provides canonical default values for drone.
// This is the SINGLE SOURCE OF TRUTH for names, limits and tool binaries.
//
// Usage:
//
//	cfg.Session = defaults.SessionName
//	cfg.MaxWebPorts = defaults.MaxWebPorts
//
// DO NOT hardcode session names or limits elsewhere.
// Reference the appropriate constant from this package instead.
package defaults

// Version is the current drone version
const Version = "1.2.0"

// ToolName is the program name used in banners, telemetry and file prefixes
const ToolName = "drone"

// ============================================================================
// SESSION SETTINGS
// ============================================================================

const (
	// SessionName is the tmux session every run attaches to ("Drone")
	SessionName = "Drone"

	// WindowPrefix prefixes the per-target window name
	WindowPrefix = "recon"

	// Layout is the tmux layout applied after each pane is added
	Layout = "tiled"

	// StateDir holds exit-status files for pane-run stages, relative to the output dir
	StateDir = ".drone"
)

// ============================================================================
// PIPELINE LIMITS
// ============================================================================

const (
	// MaxWebPorts bounds how many web ports are enumerated per run (4)
	MaxWebPorts = 4

	// LaunchRate is how many fan-out tools may start per second (2)
	LaunchRate = 2

	// MinPort and MaxPort bound valid TCP/UDP port numbers
	MinPort = 1
	MaxPort = 65535
)

// ============================================================================
// TOOL BINARIES
// ============================================================================
//
// Defaults for the external collaborators. All of them can be overridden
// from the config file.
// ============================================================================

const (
	BinaryNmap        = "nmap"
	BinaryFeroxbuster = "feroxbuster"
	BinaryWhatweb     = "whatweb"
	BinaryNikto       = "nikto"
	BinaryTmux        = "tmux"
)

// ============================================================================
// OBSERVABILITY
// ============================================================================

const (
	// MetricsPath is where the Prometheus hook serves metrics
	MetricsPath = "/metrics"

	// OTelEndpoint is the default OTLP gRPC collector
	OTelEndpoint = "localhost:4317"

	// LogFileName is the session-mode log, inside the output directory
	LogFileName = "drone.log"
)
