package tools

import "context"

// Launcher starts a Command somewhere the user can follow it: a tmux pane
// or a plain child process.
type Launcher interface {
	Start(ctx context.Context, cmd Command) (Handle, error)
}

// Handle is a started Command.
type Handle interface {
	// Wait blocks until the command exits and returns its exit status.
	// If ctx ends first the command is interrupted and ctx.Err() is returned.
	Wait(ctx context.Context) (int, error)

	// Stop interrupts the command if it is still running. It returns once
	// the command has been told to stop, or ctx ends.
	Stop(ctx context.Context) error
}
