// Package procexec runs stage commands as plain child processes for
// headless runs. Each command gets its own process group so cancelling a
// stage also stops anything the tool forked.
package procexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/recondrone/drone/pkg/tools"
)

// DefaultGrace is how long an interrupted group has to exit before it is
// killed. Scanners use it to flush their report files.
const DefaultGrace = 3 * time.Second

// Launcher starts commands as child processes.
type Launcher struct {
	// Output receives stdout and stderr of every command. Nil discards.
	Output io.Writer

	// Grace between interrupt and kill on cancellation.
	Grace time.Duration

	// Logger for launch and exit records. Nil uses slog.Default().
	Logger *slog.Logger
}

// New returns a Launcher with default settings.
func New(logger *slog.Logger) *Launcher {
	return &Launcher{Grace: DefaultGrace, Logger: logger}
}

var _ tools.Launcher = (*Launcher)(nil)

// Start launches cmd. The ctx only bounds the launch itself; the running
// process is governed by the ctx given to Wait.
func (l *Launcher) Start(ctx context.Context, c tools.Command) (tools.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Binary, c.Args...)
	cmd.Stdout = l.Output
	cmd.Stderr = l.Output
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Tool, err)
	}

	l.logger().Debug("process started",
		slog.String("tool", c.Tool),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("cmd", c.String()))

	p := &Process{
		cmd:   cmd,
		tool:  c.Tool,
		grace: l.grace(),
		log:   l.logger(),
		done:  make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (l *Launcher) grace() time.Duration {
	if l.Grace > 0 {
		return l.Grace
	}
	return DefaultGrace
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Process is a running child started by Launcher.
type Process struct {
	cmd   *exec.Cmd
	tool  string
	grace time.Duration
	log   *slog.Logger

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
}

func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the process exits. When ctx ends first the process
// group is interrupted, then killed after the grace period, and ctx.Err()
// is returned.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode()
	case <-ctx.Done():
		p.stop()
		return -1, ctx.Err()
	}
}

// Stop interrupts the process group and waits for it to exit, killing it
// after the grace period. It returns ctx.Err() if ctx ends first; the
// kill still goes ahead in the background.
func (p *Process) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		p.stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) exitCode() (int, error) {
	if p.waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait %s: %w", p.tool, p.waitErr)
}

// stop interrupts the group and escalates to a kill if it lingers.
func (p *Process) stop() {
	p.stopOnce.Do(func() {
		pid := p.cmd.Process.Pid
		if err := interruptGroup(p.cmd.Process); err != nil {
			p.log.Debug("interrupt failed", slog.String("tool", p.tool), slog.Int("pid", pid), slog.String("error", err.Error()))
		}

		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}

		p.log.Warn("process ignored interrupt, killing", slog.String("tool", p.tool), slog.Int("pid", pid))
		if err := killGroup(p.cmd.Process); err != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	})
}
