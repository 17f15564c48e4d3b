package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tmux"
	"github.com/recondrone/drone/pkg/tools"
)

// behavior scripts what a fake tool does when launched.
type behavior struct {
	report   string // written to the report path when non-empty
	exit     int
	startErr error
	block    bool // Wait blocks until ctx ends
}

type fakeLauncher struct {
	mu      sync.Mutex
	script  map[tools.Role]behavior
	started []tools.Command
	handles []*fakeHandle
	// onStart runs after a command is recorded, before it "executes".
	onStart func(tools.Command)
}

func newFakeLauncher(script map[tools.Role]behavior) *fakeLauncher {
	return &fakeLauncher{script: script}
}

func (l *fakeLauncher) Start(ctx context.Context, cmd tools.Command) (tools.Handle, error) {
	l.mu.Lock()
	l.started = append(l.started, cmd)
	b := l.script[cmd.Role]
	hook := l.onStart
	l.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if b.startErr != nil {
		return nil, b.startErr
	}
	if b.report != "" {
		if err := os.WriteFile(cmd.Report, []byte(b.report), 0o644); err != nil {
			return nil, err
		}
	}
	h := &fakeHandle{code: b.exit, block: b.block}
	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()
	return h, nil
}

// stopped reports, per started handle in launch order, whether Stop ran.
func (l *fakeLauncher) stopped() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.handles))
	for i, h := range l.handles {
		out[i] = h.stops.Load() > 0
	}
	return out
}

func (l *fakeLauncher) commands() []tools.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tools.Command(nil), l.started...)
}

func (l *fakeLauncher) roles() []tools.Role {
	var out []tools.Role
	for _, c := range l.commands() {
		out = append(out, c.Role)
	}
	return out
}

type fakeHandle struct {
	code  int
	block bool
	stops atomic.Int32
}

func (h *fakeHandle) Wait(ctx context.Context) (int, error) {
	if h.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return h.code, nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.stops.Add(1)
	return nil
}

type fakePresenter struct {
	ensureErr error
	attachErr error
	ensured   int
	attached  int
}

func (p *fakePresenter) Ensure(context.Context) error {
	p.ensured++
	return p.ensureErr
}

func (p *fakePresenter) Attach(context.Context) error {
	p.attached++
	return p.attachErr
}

// fakeMode hands out the fake launcher and, unless headless, the fake presenter.
type fakeMode struct {
	launcher  *fakeLauncher
	presenter *fakePresenter
	headless  bool
}

func (m *fakeMode) Name() string {
	if m.headless {
		return "headless"
	}
	return "session"
}

func (m *fakeMode) Requirements() []deps.Requirement {
	if m.headless {
		return nil
	}
	return []deps.Requirement{{Name: "tmux", Binary: "tmux"}}
}

func (m *fakeMode) Open(target.Target, string, *slog.Logger) (tools.Launcher, Presenter) {
	if m.headless {
		return m.launcher, nil
	}
	return m.launcher, m.presenter
}

type fakeChecker struct {
	err   error
	calls [][]deps.Requirement
}

func (c *fakeChecker) Check(_ context.Context, reqs []deps.Requirement) error {
	c.calls = append(c.calls, reqs)
	return c.err
}

// recorder is a hook capturing every event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) OnEvent(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) EventTypes() []events.EventType { return nil }

func (r *recorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// stages returns the "to" state of every stage event.
func (r *recorder) stages() []string {
	var out []string
	for _, e := range r.ofType(events.EventTypeStage) {
		out = append(out, e.(events.StageEvent).To)
	}
	return out
}

// logRecorder captures slog records.
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler       { return r }

func (r *logRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records {
		out = append(out, rec.Message)
	}
	return out
}

type harness struct {
	pipeline  *Pipeline
	launcher  *fakeLauncher
	presenter *fakePresenter
	checker   *fakeChecker
	events    *recorder
	logs      *logRecorder
	dir       string
}

func newHarness(t *testing.T, script map[tools.Role]behavior) *harness {
	t.Helper()
	dir := t.TempDir()

	h := &harness{
		launcher:  newFakeLauncher(script),
		presenter: &fakePresenter{},
		checker:   &fakeChecker{},
		events:    &recorder{},
		logs:      &logRecorder{},
		dir:       dir,
	}

	d := dispatcher.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.RegisterHook(h.events)

	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.LaunchRate = 0

	h.pipeline = &Pipeline{
		Options:    opts,
		Mode:       &fakeMode{launcher: h.launcher, presenter: h.presenter},
		Checker:    h.checker,
		Dispatcher: d,
		Logger:     slog.New(h.logs),
		NewRunID:   func() string { return "run-test" },
	}
	return h
}

func (h *harness) headless() {
	h.pipeline.Mode = &fakeMode{launcher: h.launcher, headless: true}
}

var errSplit = &tmux.SessionError{Op: "split", Err: errors.New("no space for new pane")}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
