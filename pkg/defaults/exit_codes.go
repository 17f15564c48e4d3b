package defaults

// Exit codes for the CLI.
const (
	ExitSuccess           = 0   // Run completed (including "no open ports")
	ExitInternalError     = 1   // Unexpected internal error
	ExitUserError         = 2   // Invalid target, arguments or configuration
	ExitMissingDependency = 3   // A required external tool is missing or broken
	ExitScanFailure       = 4   // An external scan failed or was unreachable
	ExitSessionError      = 5   // tmux unavailable or session setup failed
	ExitCancelled         = 130 // Interrupted by the user
)
