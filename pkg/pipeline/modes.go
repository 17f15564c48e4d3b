package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/procexec"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tmux"
	"github.com/recondrone/drone/pkg/tools"
)

// Presenter is the visible side of a session-mode run.
type Presenter interface {
	// Ensure makes the session and the run's window exist.
	Ensure(ctx context.Context) error

	// Attach hands the user's terminal to the session. It returns
	// tmux.ErrNoTerminal when there is no terminal to hand over.
	Attach(ctx context.Context) error
}

// Mode decides where stage commands run.
type Mode interface {
	// Name is "session" or "headless".
	Name() string

	// Requirements lists binaries the mode itself needs.
	Requirements() []deps.Requirement

	// Open prepares the launcher for one run. A nil Presenter means the
	// run is headless: fan-out tools are waited for and nothing attaches.
	Open(t target.Target, runID string, logger *slog.Logger) (tools.Launcher, Presenter)
}

// SessionMode runs every stage in a pane of a shared tmux session.
type SessionMode struct {
	Commander tmux.Commander
	Session   string
	OutputDir string

	// Dir is where pane shells start. Empty uses the working directory.
	Dir string

	// IsTerminal decides whether the user can be attached. Nil checks stdin.
	IsTerminal func() bool
}

// Name implements Mode.
func (m SessionMode) Name() string { return "session" }

// Requirements implements Mode.
func (m SessionMode) Requirements() []deps.Requirement {
	bin := defaults.BinaryTmux
	if e, ok := m.Commander.(tmux.Exec); ok && e.Binary != "" {
		bin = e.Binary
	}
	return []deps.Requirement{{Name: "tmux", Binary: bin, VersionArgs: []string{"-V"}}}
}

// Open implements Mode.
func (m SessionMode) Open(t target.Target, runID string, logger *slog.Logger) (tools.Launcher, Presenter) {
	p := tmux.NewPresenter(tmux.NewClient(m.Commander), tmux.Options{
		Session:    m.Session,
		Window:     WindowName(t),
		Dir:        m.Dir,
		Logger:     logger,
		IsTerminal: m.IsTerminal,
	})
	outDir := m.OutputDir
	if abs, err := filepath.Abs(outDir); err == nil {
		outDir = abs
	}
	stateDir := filepath.Join(outDir, defaults.StateDir)
	return tmux.NewPaneLauncher(p, stateDir, runID), p
}

// WindowName is the per-target window name.
func WindowName(t target.Target) string {
	return defaults.WindowPrefix + "-" + t.FileSafe()
}

// HeadlessMode runs stages as plain child processes.
type HeadlessMode struct {
	Launcher *procexec.Launcher
}

// Name implements Mode.
func (m HeadlessMode) Name() string { return "headless" }

// Requirements implements Mode.
func (m HeadlessMode) Requirements() []deps.Requirement { return nil }

// Open implements Mode.
func (m HeadlessMode) Open(_ target.Target, _ string, logger *slog.Logger) (tools.Launcher, Presenter) {
	l := m.Launcher
	if l == nil {
		l = procexec.New(logger)
	}
	return l, nil
}
