package tmux

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/retry"
)

// Options configures a Presenter.
type Options struct {
	Session string // session name, default defaults.SessionName
	Window  string // window name for this run
	Layout  string // layout re-applied after each split, default defaults.Layout

	// Dir is where pane shells start. Relative report and status paths
	// resolve against it. Empty uses drone's working directory.
	Dir string

	// Logger for session operations. Nil uses slog.Default().
	Logger *slog.Logger

	// IsTerminal reports whether the caller can attach. Nil checks stdin.
	IsTerminal func() bool

	// InsideTmux reports whether drone itself runs in a tmux client.
	// Nil checks $TMUX.
	InsideTmux func() bool

	// Ready is the readiness retry policy after a new session is created.
	// Zero value uses retry.Readiness().
	Ready retry.Policy
}

// Presenter owns the run's tmux window. It maps each stage to a pane
// (the SessionLayout) and serializes every layout change.
type Presenter struct {
	client *Client
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	window Window
	spare  string            // first pane, not yet given to a stage
	panes  map[string]string // stage -> pane id
	order  []string
}

// NewPresenter returns a Presenter for the given client.
func NewPresenter(c *Client, opts Options) *Presenter {
	if opts.Session == "" {
		opts.Session = defaults.SessionName
	}
	if opts.Window == "" {
		opts.Window = defaults.WindowPrefix
	}
	if opts.Layout == "" {
		opts.Layout = defaults.Layout
	}
	if opts.Dir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.Dir = wd
		}
	}
	if opts.IsTerminal == nil {
		opts.IsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	if opts.InsideTmux == nil {
		opts.InsideTmux = func() bool { return os.Getenv("TMUX") != "" }
	}
	if opts.Ready == (retry.Policy{}) {
		opts.Ready = retry.Readiness()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Presenter{
		client: c,
		opts:   opts,
		log:    log.With(slog.String("session", opts.Session)),
		panes:  make(map[string]string),
	}
}

// Session returns the session name.
func (p *Presenter) Session() string { return p.opts.Session }

// Client returns the underlying tmux client.
func (p *Presenter) Client() *Client { return p.client }

// Ensure makes the session and the run's window exist. It is idempotent:
// an existing session is reused, and an existing window of the same name
// is reset to a single fresh pane.
func (p *Presenter) Ensure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.window.ID != "" {
		return nil
	}

	exists, err := p.client.HasSession(ctx, p.opts.Session)
	if err != nil {
		return sessionErr("has session", err)
	}

	if !exists {
		w, err := p.client.NewSession(ctx, p.opts.Session, p.opts.Window, p.opts.Dir)
		if err != nil {
			return sessionErr("create", err)
		}
		err = retry.Do(ctx, p.opts.Ready, func(ctx context.Context) error {
			ok, err := p.client.HasSession(ctx, p.opts.Session)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotEnsured
			}
			return nil
		})
		if err != nil {
			return sessionErr("wait ready", err)
		}
		p.log.Debug("session created", slog.String("window", w.ID), slog.String("pane", w.Pane))
		p.window, p.spare = w, w.Pane
		return nil
	}

	w, found, err := p.client.FindWindow(ctx, p.opts.Session, p.opts.Window)
	if err != nil {
		return sessionErr("list windows", err)
	}
	if !found {
		w, err = p.client.NewWindow(ctx, p.opts.Session, p.opts.Window, p.opts.Dir)
		if err != nil {
			return sessionErr("create window", err)
		}
		p.log.Debug("window created", slog.String("window", w.ID))
		p.window, p.spare = w, w.Pane
		return nil
	}

	panes, err := p.client.ListPanes(ctx, w.ID)
	if err != nil {
		return sessionErr("list panes", err)
	}
	if len(panes) == 0 {
		return sessionErr("list panes", ErrBadResponse)
	}
	for _, extra := range panes[1:] {
		if err := p.client.KillPane(ctx, extra); err != nil {
			return sessionErr("kill pane", err)
		}
	}
	if err := p.client.RespawnPane(ctx, panes[0], p.opts.Dir); err != nil {
		return sessionErr("respawn pane", err)
	}
	p.log.Debug("window reused", slog.String("window", w.ID), slog.Int("killed_panes", len(panes)-1))
	w.Pane = panes[0]
	p.window, p.spare = w, panes[0]
	return nil
}

// Pane returns the pane assigned to stage, creating it on first use. The
// pane is titled after the stage, the window is re-tiled and the pane is
// cleared.
func (p *Presenter) Pane(ctx context.Context, stage string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.window.ID == "" {
		return "", sessionErr("pane", ErrNotEnsured)
	}
	if pane, ok := p.panes[stage]; ok {
		return pane, nil
	}

	pane := p.spare
	if pane != "" {
		p.spare = ""
	} else {
		var err error
		pane, err = p.client.SplitWindow(ctx, p.window.ID, p.opts.Dir)
		if err != nil {
			return "", sessionErr("split", err)
		}
		if err := p.client.SelectLayout(ctx, p.window.ID, p.opts.Layout); err != nil {
			return "", sessionErr("layout", err)
		}
	}

	p.panes[stage] = pane
	p.order = append(p.order, stage)

	if err := p.client.SetPaneTitle(ctx, pane, stage); err != nil {
		return "", sessionErr("title", err)
	}
	if err := p.client.SendLine(ctx, pane, "clear"); err != nil {
		return "", sessionErr("clear", err)
	}
	return pane, nil
}

// Send types a command line into the pane.
func (p *Presenter) Send(ctx context.Context, pane, line string) error {
	return sessionErr("send", p.client.SendLine(ctx, pane, line))
}

// Interrupt sends Ctrl-C to the pane.
func (p *Presenter) Interrupt(ctx context.Context, pane string) error {
	return sessionErr("interrupt", p.client.SendInterrupt(ctx, pane))
}

// Layout returns the stage to pane mapping in creation order.
func (p *Presenter) Layout() []Assignment {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Assignment, 0, len(p.order))
	for _, s := range p.order {
		out = append(out, Assignment{Stage: s, Pane: p.panes[s]})
	}
	return out
}

// Assignment is one entry of the session layout.
type Assignment struct {
	Stage string `json:"stage"`
	Pane  string `json:"pane"`
}

// Attach hands the user's terminal to the session, showing the run's
// window. Inside tmux the current client is switched instead. Returns
// ErrNoTerminal without side effects when stdin is not a terminal.
func (p *Presenter) Attach(ctx context.Context) error {
	p.mu.Lock()
	windowID := p.window.ID
	p.mu.Unlock()

	if windowID == "" {
		return sessionErr("attach", ErrNotEnsured)
	}
	if !p.opts.IsTerminal() {
		return ErrNoTerminal
	}
	if err := p.client.SelectWindow(ctx, windowID); err != nil {
		return sessionErr("select window", err)
	}
	if p.opts.InsideTmux() {
		return sessionErr("switch client", p.client.SwitchClient(ctx, p.opts.Session))
	}
	return sessionErr("attach", p.client.Attach(ctx, p.opts.Session))
}
