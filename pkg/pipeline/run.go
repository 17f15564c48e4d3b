package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
	"github.com/recondrone/drone/pkg/scan"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tools"
)

// RunContext is the state of one invocation. It is owned by the goroutine
// driving Run; fan-out goroutines only touch their own Launch entry.
type RunContext struct {
	ID     string
	Raw    string
	Target target.Target
	Mode   string

	State    State
	Ports    scan.PortSet
	Findings []scan.ServiceFinding
	Selected []scan.ServiceFinding
	Launches []*Launch
	Partial  bool

	Started time.Time
	Timings map[State]time.Duration

	Logger    *slog.Logger
	Launcher  tools.Launcher
	Presenter Presenter

	events  *dispatcher.Dispatcher
	entered time.Time
}

// Launch is one enumeration tool started against a web port.
// Err is set when the tool could not be started; WaitErr when a headless
// run stopped waiting for it.
type Launch struct {
	Finding  scan.ServiceFinding `json:"finding"`
	URL      string              `json:"url"`
	Command  tools.Command       `json:"command"`
	Err      error               `json:"-"`
	WaitErr  error               `json:"-"`
	ExitCode *int                `json:"exit_code,omitempty"`

	handle tools.Handle
}

// Failed reports whether the launch failed.
func (l *Launch) Failed() bool { return l.Err != nil }

// ErrorText returns the launch error text, or "".
func (l *Launch) ErrorText() string {
	if l.Err == nil {
		return ""
	}
	return l.Err.Error()
}

func newRunContext(id, raw, mode string, logger *slog.Logger, d *dispatcher.Dispatcher) *RunContext {
	now := time.Now()
	return &RunContext{
		ID:      id,
		Raw:     raw,
		Mode:    mode,
		State:   StateValidating,
		Started: now,
		Timings: make(map[State]time.Duration),
		Logger:  logger.With(slog.String("run", id)),
		events:  d,
		entered: now,
	}
}

// transition moves the machine to next and emits a stage event.
func (rc *RunContext) transition(ctx context.Context, next State, reason string) error {
	if !rc.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rc.State, next)
	}

	now := time.Now()
	elapsed := now.Sub(rc.entered)
	rc.Timings[rc.State] += elapsed

	prev := rc.State
	rc.State = next
	rc.entered = now

	attrs := []any{slog.String("from", string(prev)), slog.String("to", string(next)), slog.Duration("elapsed", elapsed)}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	rc.Logger.Info("stage", attrs...)

	rc.emit(ctx, events.StageEvent{
		BaseEvent: events.NewBase(events.EventTypeStage, rc.ID),
		From:      string(prev),
		To:        string(next),
		Reason:    reason,
		Elapsed:   elapsed,
	})
	return nil
}

func (rc *RunContext) emit(ctx context.Context, e events.Event) {
	if rc.events != nil {
		rc.events.Dispatch(ctx, e)
	}
}

func (rc *RunContext) warn(ctx context.Context, msg string, attrs ...any) {
	rc.Logger.Warn(msg, attrs...)
	rc.emit(ctx, events.WarningEvent{
		BaseEvent: events.NewBase(events.EventTypeWarning, rc.ID),
		Stage:     string(rc.State),
		Message:   msg,
	})
}

// vars returns the template values for the run, scoped to f when set.
func (rc *RunContext) vars(f *scan.ServiceFinding, wordlist string) tools.Vars {
	v := tools.Vars{
		tools.VarTarget:     rc.Target.String(),
		tools.VarTargetFile: rc.Target.FileSafe(),
		tools.VarFamily:     "",
		tools.VarPorts:      rc.Ports.String(),
		tools.VarPort:       "",
		tools.VarURL:        "",
		tools.VarWordlist:   wordlist,
	}
	if rc.Target.IsIPv6() {
		v[tools.VarFamily] = "-6"
	}
	if f != nil {
		v[tools.VarPort] = fmt.Sprint(f.Port)
		v[tools.VarURL] = f.URL(rc.Target.URLHost())
	}
	return v
}

// Result is the outcome of a run handed back to the caller.
type Result struct {
	RunID    string                  `json:"run_id"`
	Target   string                  `json:"target"`
	Mode     string                  `json:"mode"`
	State    State                   `json:"state"`
	Ports    []int                   `json:"ports"`
	Findings []scan.ServiceFinding   `json:"findings"`
	WebPorts []int                   `json:"web_ports"`
	Launches []*Launch               `json:"launches"`
	Partial  bool                    `json:"partial_service_scan,omitempty"`
	Duration time.Duration           `json:"duration_ns,format:nano"`
	Timings  map[State]time.Duration `json:"-"`
}

// FailedLaunches counts launches that did not start.
func (r *Result) FailedLaunches() int {
	n := 0
	for _, l := range r.Launches {
		if l.Failed() {
			n++
		}
	}
	return n
}

func (rc *RunContext) result() *Result {
	name := rc.Raw
	if !rc.Target.IsZero() {
		name = rc.Target.String()
	}
	var web []int
	for _, f := range rc.Selected {
		web = append(web, f.Port)
	}
	return &Result{
		RunID:    rc.ID,
		Target:   name,
		Mode:     rc.Mode,
		State:    rc.State,
		Ports:    rc.Ports.Ports(),
		Findings: rc.Findings,
		WebPorts: web,
		Launches: rc.Launches,
		Partial:  rc.Partial,
		Duration: time.Since(rc.Started),
		Timings:  rc.Timings,
	}
}
