package tmux

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/recondrone/drone/pkg/tools"
)

// PaneLauncher runs commands inside the presenter's panes. Each command
// writes its exit status to a file and signals a tmux wait-for channel,
// so completion is observed without polling.
type PaneLauncher struct {
	presenter *Presenter
	stateDir  string
	runID     string
	seq       atomic.Int64
}

var _ tools.Launcher = (*PaneLauncher)(nil)

// NewPaneLauncher returns a launcher that keeps exit-status files in
// stateDir and names channels after runID.
func NewPaneLauncher(p *Presenter, stateDir, runID string) *PaneLauncher {
	return &PaneLauncher{presenter: p, stateDir: stateDir, runID: runID}
}

// Start implements tools.Launcher. The command is typed into the stage's
// pane and Start returns once tmux accepted the keystrokes.
func (l *PaneLauncher) Start(ctx context.Context, c tools.Command) (tools.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	title := c.Title
	if title == "" {
		title = c.Tool
	}
	pane, err := l.presenter.Pane(ctx, title)
	if err != nil {
		return nil, err
	}

	channel := fmt.Sprintf("drone-%s-%d", l.runID, l.seq.Add(1))
	exitFile := filepath.Join(l.stateDir, channel+".exit")
	_ = os.Remove(exitFile)

	if err := l.presenter.Send(ctx, pane, WrapCommand(title, c, exitFile, channel)); err != nil {
		return nil, err
	}

	return &PaneHandle{
		presenter: l.presenter,
		pane:      pane,
		channel:   channel,
		exitFile:  exitFile,
	}, nil
}

// WrapCommand renders the line typed into a pane: a banner, the command,
// then recording its status and signalling channel.
func WrapCommand(title string, c tools.Command, exitFile, channel string) string {
	banner := "== " + strings.ToUpper(title) + " =="
	script := strings.Join([]string{
		"echo " + tools.ShellQuote(banner),
		c.String(),
		"echo $? > " + tools.ShellQuote(exitFile),
		"tmux wait-for -S " + tools.ShellQuote(channel),
	}, "; ")
	return "sh -c " + tools.ShellQuote(script)
}

// PaneHandle is a command running in a pane.
type PaneHandle struct {
	presenter *Presenter
	pane      string
	channel   string
	exitFile  string
}

// Pane returns the pane id the command runs in.
func (h *PaneHandle) Pane() string { return h.pane }

// Wait blocks on the command's wait-for channel, then reads its exit
// status. If ctx ends first the pane is interrupted with Ctrl-C.
func (h *PaneHandle) Wait(ctx context.Context) (int, error) {
	err := h.presenter.Client().WaitFor(ctx, h.channel)
	if ctx.Err() != nil {
		// The caller's ctx is done; use a fresh one to deliver the interrupt.
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.presenter.Client().timeout)
		defer cancel()
		_ = h.Stop(ictx)
		return -1, ctx.Err()
	}
	if err != nil {
		return -1, sessionErr("wait", err)
	}

	data, err := os.ReadFile(h.exitFile)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrNoExitCode, err)
	}
	_ = os.Remove(h.exitFile)
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrNoExitCode, strings.TrimSpace(string(data)))
	}
	return code, nil
}

// Stop sends Ctrl-C to the pane. The shell in the pane survives, so the
// pane stays open showing whatever the tool printed.
func (h *PaneHandle) Stop(ctx context.Context) error {
	return h.presenter.Interrupt(ctx, h.pane)
}
