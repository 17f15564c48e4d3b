// Package tmux drives a tmux server through its command line. It knows
// just enough tmux to give every pipeline stage a visible pane and to
// learn when a command run in that pane has finished.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/recondrone/drone/pkg/defaults"
)

// Commander runs tmux subcommands.
type Commander interface {
	// Run executes tmux with args and returns its trimmed stdout.
	Run(ctx context.Context, args ...string) (string, error)

	// Interactive executes tmux with the caller's terminal attached.
	Interactive(ctx context.Context, args ...string) error
}

// Exec is the Commander backed by the tmux binary.
type Exec struct {
	// Binary is the tmux executable. Empty uses defaults.BinaryTmux.
	Binary string

	// Socket selects a named server (tmux -L). Empty uses the default server.
	Socket string
}

var _ Commander = Exec{}

func (e Exec) argv(args []string) (string, []string) {
	bin := e.Binary
	if bin == "" {
		bin = defaults.BinaryTmux
	}
	if e.Socket != "" {
		args = append([]string{"-L", e.Socket}, args...)
	}
	return bin, args
}

// Run implements Commander.
func (e Exec) Run(ctx context.Context, args ...string) (string, error) {
	bin, argv := e.argv(args)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &CommandError{
			Args:     args,
			ExitCode: code,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Interactive implements Commander.
func (e Exec) Interactive(ctx context.Context, args ...string) error {
	bin, argv := e.argv(args)

	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		return &CommandError{Args: args, ExitCode: code, Err: err}
	}
	return nil
}

// CommandError is a tmux invocation that failed.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	sub := ""
	if len(e.Args) > 0 {
		sub = e.Args[0]
	}
	if e.Stderr != "" {
		return fmt.Sprintf("tmux %s: %s", sub, e.Stderr)
	}
	return fmt.Sprintf("tmux %s: %v", sub, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
