package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/recondrone/drone/pkg/duration"
)

// Client exposes the tmux subcommands drone needs. Sessions are always
// addressed with the exact-match prefix "=" and windows and panes by
// their ids (@N, %N), so names containing dots or colons are safe.
type Client struct {
	cmd     Commander
	timeout time.Duration
}

// NewClient returns a Client issuing commands through c.
func NewClient(c Commander) *Client {
	return &Client{cmd: c, timeout: duration.TmuxCommand}
}

// Window is a tmux window and its first pane.
type Window struct {
	ID   string
	Name string
	Pane string
}

const idFormat = "#{window_id}\t#{window_name}\t#{pane_id}"

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.cmd.Run(ctx, args...)
}

func exact(session string) string {
	return "=" + session
}

// inDir appends the start directory flag for commands that spawn a shell.
func inDir(args []string, dir string) []string {
	if dir == "" {
		return args
	}
	return append(args, "-c", dir)
}

// HasSession reports whether a session with exactly this name exists.
// A missing server counts as a missing session.
func (c *Client) HasSession(ctx context.Context, session string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", exact(session))
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// NewSession creates a detached session whose first window is named
// window. The first pane's shell starts in dir unless dir is empty.
func (c *Client) NewSession(ctx context.Context, session, window, dir string) (Window, error) {
	out, err := c.run(ctx, inDir([]string{"new-session", "-d", "-s", session, "-n", window, "-P", "-F", idFormat}, dir)...)
	if err != nil {
		return Window{}, err
	}
	return parseWindow(out)
}

// NewWindow adds a detached window to session, starting in dir.
func (c *Client) NewWindow(ctx context.Context, session, window, dir string) (Window, error) {
	out, err := c.run(ctx, inDir([]string{"new-window", "-d", "-t", exact(session) + ":", "-n", window, "-P", "-F", idFormat}, dir)...)
	if err != nil {
		return Window{}, err
	}
	return parseWindow(out)
}

// FindWindow returns the first window of session named window.
func (c *Client) FindWindow(ctx context.Context, session, window string) (Window, bool, error) {
	out, err := c.run(ctx, "list-windows", "-t", exact(session), "-F", idFormat)
	if err != nil {
		return Window{}, false, err
	}
	for _, line := range lines(out) {
		w, err := parseWindow(line)
		if err != nil {
			return Window{}, false, err
		}
		if w.Name == window {
			return w, true, nil
		}
	}
	return Window{}, false, nil
}

// ListPanes returns the pane ids of a window in index order.
func (c *Client) ListPanes(ctx context.Context, windowID string) ([]string, error) {
	out, err := c.run(ctx, "list-panes", "-t", windowID, "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// KillPane removes a pane and whatever runs in it.
func (c *Client) KillPane(ctx context.Context, pane string) error {
	_, err := c.run(ctx, "kill-pane", "-t", pane)
	return err
}

// RespawnPane kills the pane's process and starts a fresh shell in it,
// in dir rather than the directory the old shell started in.
func (c *Client) RespawnPane(ctx context.Context, pane, dir string) error {
	_, err := c.run(ctx, inDir([]string{"respawn-pane", "-k", "-t", pane}, dir)...)
	return err
}

// SplitWindow adds a pane to the window without selecting it.
func (c *Client) SplitWindow(ctx context.Context, windowID, dir string) (string, error) {
	out, err := c.run(ctx, inDir([]string{"split-window", "-d", "-t", windowID, "-P", "-F", "#{pane_id}"}, dir)...)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(out, "%") {
		return "", fmt.Errorf("%w: split-window printed %q", ErrBadResponse, out)
	}
	return out, nil
}

// SelectLayout applies a preset layout to the window.
func (c *Client) SelectLayout(ctx context.Context, windowID, layout string) error {
	_, err := c.run(ctx, "select-layout", "-t", windowID, layout)
	return err
}

// SelectWindow makes the window current in its session.
func (c *Client) SelectWindow(ctx context.Context, windowID string) error {
	_, err := c.run(ctx, "select-window", "-t", windowID)
	return err
}

// SetPaneTitle sets the title shown in the pane border.
func (c *Client) SetPaneTitle(ctx context.Context, pane, title string) error {
	_, err := c.run(ctx, "select-pane", "-t", pane, "-T", title)
	return err
}

// SendLine types line into the pane literally and presses Enter.
func (c *Client) SendLine(ctx context.Context, pane, line string) error {
	if _, err := c.run(ctx, "send-keys", "-t", pane, "-l", "--", line); err != nil {
		return err
	}
	_, err := c.run(ctx, "send-keys", "-t", pane, "Enter")
	return err
}

// SendInterrupt delivers Ctrl-C to the pane's foreground process.
func (c *Client) SendInterrupt(ctx context.Context, pane string) error {
	_, err := c.run(ctx, "send-keys", "-t", pane, "C-c")
	return err
}

// WaitFor blocks until channel is signalled or ctx ends. It is not bound
// by the per-command timeout.
func (c *Client) WaitFor(ctx context.Context, channel string) error {
	_, err := c.cmd.Run(ctx, "wait-for", channel)
	return err
}

// Attach connects the caller's terminal to session.
func (c *Client) Attach(ctx context.Context, session string) error {
	return c.cmd.Interactive(ctx, "attach-session", "-t", exact(session))
}

// SwitchClient moves the current tmux client to session.
func (c *Client) SwitchClient(ctx context.Context, session string) error {
	_, err := c.run(ctx, "switch-client", "-t", exact(session))
	return err
}

func parseWindow(line string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "@") || !strings.HasPrefix(parts[2], "%") {
		return Window{}, fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	return Window{ID: parts[0], Name: parts[1], Pane: parts[2]}, nil
}

func lines(out string) []string {
	var res []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}
