// Package pipeline drives one reconnaissance run through its stages:
// validate, fast port scan, service scan, decide, enumerate, attach.
//
// Stages run strictly in order on the caller's goroutine. Only the
// enumeration tools run concurrently, and they never feed back into the
// run. Every state change is logged and dispatched as an event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tmux"
	"github.com/recondrone/drone/pkg/tools"
)

// Options are the per-run knobs.
type Options struct {
	Tools       tools.Set
	OutputDir   string
	Wordlist    string
	MaxWebPorts int
	LaunchRate  float64 // enumeration launches per second; <= 0 means unpaced

	PortTimeout        time.Duration
	ServiceTimeout     time.Duration
	EnumerationTimeout time.Duration

	SkipDeps bool
	NoAttach bool
}

// DefaultOptions returns the built-in settings.
func DefaultOptions() Options {
	return Options{
		Tools:              tools.Builtin(),
		OutputDir:          ".",
		MaxWebPorts:        defaults.MaxWebPorts,
		LaunchRate:         defaults.LaunchRate,
		PortTimeout:        duration.PortScan,
		ServiceTimeout:     duration.ServiceScan,
		EnumerationTimeout: duration.Enumeration,
	}
}

// absPaths makes the output directory and wordlist absolute. Commands
// typed into a reused pane run wherever that pane's shell started, so
// relative paths would point at another run's directory.
func (o *Options) absPaths() error {
	dir, err := filepath.Abs(o.OutputDir)
	if err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	o.OutputDir = dir
	if o.Wordlist != "" {
		wl, err := filepath.Abs(o.Wordlist)
		if err != nil {
			return fmt.Errorf("wordlist: %w", err)
		}
		o.Wordlist = wl
	}
	return nil
}

// Checker verifies external dependencies.
type Checker interface {
	Check(ctx context.Context, reqs []deps.Requirement) error
}

// Pipeline runs targets through the stages.
type Pipeline struct {
	Options    Options
	Mode       Mode
	Checker    Checker
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger

	// NewRunID generates run identifiers. Nil uses uuid.NewString.
	NewRunID func() string
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) checker() Checker {
	if p.Checker != nil {
		return p.Checker
	}
	return &deps.Checker{Logger: p.Logger}
}

func (p *Pipeline) runID() string {
	if p.NewRunID != nil {
		return p.NewRunID()
	}
	return uuid.NewString()
}

// Run executes the whole pipeline for rawTarget. The returned Result is
// never nil; on failure its State is StateFailed and err names the cause.
// Cancelling ctx stops the running stage and launches nothing further.
func (p *Pipeline) Run(ctx context.Context, rawTarget string) (*Result, error) {
	rc := newRunContext(p.runID(), rawTarget, p.Mode.Name(), p.logger(), p.Dispatcher)

	err := p.run(ctx, rc)
	if err != nil {
		if terr := rc.transition(ctx, StateFailed, err.Error()); terr != nil {
			err = errors.Join(err, terr)
		}
		rc.Logger.Error("run failed", slog.String("state", string(rc.State)), slog.String("error", err.Error()))
	}

	res := rc.result()
	p.complete(ctx, rc, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, rc *RunContext) error {
	t, err := target.Parse(rc.Raw)
	if err != nil {
		return err
	}
	if err := p.Options.absPaths(); err != nil {
		return err
	}
	rc.Target = t
	rc.Logger = rc.Logger.With(slog.String("target", t.String()))

	if !p.Options.SkipDeps {
		reqs := append(p.Options.Tools.Requirements(), p.Mode.Requirements()...)
		if err := p.checker().Check(ctx, reqs); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return err
		}
	}

	rc.Launcher, rc.Presenter = p.Mode.Open(t, rc.ID, rc.Logger)
	start := events.StartEvent{
		BaseEvent: events.NewBase(events.EventTypeStart, rc.ID),
		Target:    t.String(),
		Mode:      rc.Mode,
		OutputDir: p.Options.OutputDir,
		Version:   defaults.Version,
	}
	if sm, ok := p.Mode.(SessionMode); ok {
		start.Session = sm.Session
		start.Window = WindowName(t)
	}
	rc.emit(ctx, start)

	if rc.Presenter != nil {
		if err := rc.Presenter.Ensure(ctx); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return err
		}
	}

	if err := rc.transition(ctx, StatePortScanning, ""); err != nil {
		return err
	}
	if err := p.portScan(ctx, rc); err != nil {
		return err
	}
	if rc.Ports.Empty() {
		rc.Logger.Info("no open ports, nothing further to do")
		return p.finish(ctx, rc, "no open ports")
	}

	if err := rc.transition(ctx, StateServiceScanning, ""); err != nil {
		return err
	}
	if err := p.serviceScan(ctx, rc); err != nil {
		return err
	}

	if err := rc.transition(ctx, StateDeciding, ""); err != nil {
		return err
	}
	if reason := p.decide(ctx, rc); reason != "" {
		rc.Logger.Info("enumeration skipped", slog.String("reason", reason))
		return p.finish(ctx, rc, "enumeration skipped: "+reason)
	}

	if err := rc.transition(ctx, StateEnumerating, ""); err != nil {
		return err
	}
	if err := p.enumerate(ctx, rc); err != nil {
		return err
	}
	return p.finish(ctx, rc, "")
}

// finish attaches the user, when there is a session and a terminal, and
// enters the terminal success state.
func (p *Pipeline) finish(ctx context.Context, rc *RunContext, reason string) error {
	if rc.Presenter != nil && !p.Options.NoAttach {
		switch err := rc.Presenter.Attach(ctx); {
		case err == nil:
		case errors.Is(err, tmux.ErrNoTerminal):
			rc.Logger.Info("attach skipped, stdin is not a terminal")
		case ctx.Err() != nil:
			return cancelled(ctx.Err())
		default:
			return err
		}
	}
	return rc.transition(ctx, StateAttached, reason)
}

func (p *Pipeline) complete(ctx context.Context, rc *RunContext, res *Result, err error) {
	ev := events.CompleteEvent{
		BaseEvent: events.NewBase(events.EventTypeComplete, rc.ID),
		Target:    res.Target,
		State:     string(res.State),
		Success:   err == nil,
		ExitCode:  ExitCode(err),
		Ports:     res.Ports,
		WebPorts:  res.WebPorts,
		Launched:  len(res.Launches) - res.FailedLaunches(),
		Failed:    res.FailedLaunches(),
		Duration:  res.Duration,
	}
	if err != nil {
		ev.ExitReason = err.Error()
	}
	// Deliver the final event even when ctx was cancelled.
	rc.emit(context.WithoutCancel(ctx), ev)

	rc.Logger.Info("run complete",
		slog.String("state", string(res.State)),
		slog.Int("ports", len(res.Ports)),
		slog.Int("web_ports", len(res.WebPorts)),
		slog.Int("launched", ev.Launched),
		slog.Duration("took", res.Duration))
}

// stageOutcome is how a blocking stage command ended.
type stageOutcome struct {
	code     int
	timedOut bool
}

// runStage launches cmd and waits for it under timeout. Cancellation of
// ctx is reported as ErrCancelled; a stage timeout is not an error here
// and is reported through the outcome.
func (p *Pipeline) runStage(ctx context.Context, rc *RunContext, cmd tools.Command, timeout time.Duration) (stageOutcome, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc.Logger.Info("launching", slog.String("tool", cmd.Tool), slog.String("cmd", cmd.String()))

	h, err := rc.Launcher.Start(sctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return stageOutcome{}, cancelled(ctx.Err())
		}
		return stageOutcome{}, launchError(rc.State, cmd, err)
	}

	code, err := h.Wait(sctx)
	switch {
	case ctx.Err() != nil:
		return stageOutcome{}, cancelled(ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return stageOutcome{code: -1, timedOut: true}, nil
	case err != nil:
		return stageOutcome{}, launchError(rc.State, cmd, err)
	}
	return stageOutcome{code: code}, nil
}

// launchError keeps session failures distinct from tool failures.
func launchError(stage State, cmd tools.Command, err error) error {
	var se *tmux.SessionError
	if errors.As(err, &se) {
		return err
	}
	return &ScanExecutionError{Stage: stage, Tool: cmd.Tool, ExitCode: -1, Err: err}
}

func (p *Pipeline) build(rc *RunContext, role tools.Role, vars tools.Vars) (tools.Command, error) {
	cmd, err := p.Options.Tools.Build(role, p.Options.OutputDir, vars)
	if err != nil {
		return tools.Command{}, &ScanExecutionError{Stage: rc.State, Tool: string(role), ExitCode: -1, Err: fmt.Errorf("build command: %w", err)}
	}
	return cmd, nil
}
