package tmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recondrone/drone/pkg/retry"
)

// server is a tiny in-memory tmux model for presenter tests.
type server struct {
	mu       sync.Mutex
	session  bool
	windows  map[string][]string // window name -> panes
	ids      map[string]string   // window name -> id
	nextPane int
	nextWin  int
	// readyAfter makes has-session fail this many times after creation.
	readyAfter int
	failSplit  bool
}

func newServer() *server {
	return &server{windows: map[string][]string{}, ids: map[string]string{}}
}

func (s *server) pane() string {
	s.nextPane++
	return fmt.Sprintf("%%%d", s.nextPane)
}

func (s *server) addWindow(name string) string {
	s.nextWin++
	id := fmt.Sprintf("@%d", s.nextWin)
	p := s.pane()
	s.windows[name] = []string{p}
	s.ids[name] = id
	return fmt.Sprintf("%s\t%s\t%s", id, name, p)
}

func (s *server) nameOf(id string) string {
	for n, i := range s.ids {
		if i == id {
			return n
		}
	}
	return ""
}

func (s *server) handle(args []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch args[0] {
	case "has-session":
		if !s.session {
			return "", noSession()
		}
		if s.readyAfter > 0 {
			s.readyAfter--
			return "", noSession()
		}
		return "", nil
	case "new-session":
		s.session = true
		return s.addWindow(args[5]), nil
	case "new-window":
		return s.addWindow(args[5]), nil
	case "list-windows":
		out := ""
		for name, panes := range s.windows {
			out += fmt.Sprintf("%s\t%s\t%s\n", s.ids[name], name, panes[0])
		}
		return out, nil
	case "list-panes":
		out := ""
		for _, p := range s.windows[s.nameOf(args[2])] {
			out += p + "\n"
		}
		return out, nil
	case "split-window":
		if s.failSplit {
			return "", &CommandError{Args: args, ExitCode: 1, Stderr: "no space for new pane"}
		}
		name := s.nameOf(args[3])
		p := s.pane()
		s.windows[name] = append(s.windows[name], p)
		return p, nil
	case "kill-pane":
		for name, panes := range s.windows {
			for i, p := range panes {
				if p == args[2] {
					s.windows[name] = append(panes[:i:i], panes[i+1:]...)
				}
			}
		}
		return "", nil
	}
	return "", nil
}

func newTestPresenter(f *fakeTmux) *Presenter {
	return NewPresenter(NewClient(f), Options{
		Window:     "recon-10.0.0.5",
		Dir:        "/work",
		IsTerminal: func() bool { return true },
		InsideTmux: func() bool { return false },
		Ready:      retry.Policy{Delay: 1, Budget: 1e9},
	})
}

func TestEnsure_CreatesSession(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)

	require.NoError(t, p.Ensure(context.Background()))
	assert.Equal(t, []string{"has-session", "new-session", "has-session"}, f.subcommands())
	assert.Equal(t, []string{"new-session", "-d", "-s", "Drone", "-n", "recon-10.0.0.5", "-P", "-F", idFormat, "-c", "/work"}, f.calls[1])
}

func TestEnsure_WaitsForReadiness(t *testing.T) {
	s := newServer()
	s.readyAfter = 2
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)

	require.NoError(t, p.Ensure(context.Background()))
	assert.Len(t, f.find("has-session"), 4)
}

func TestEnsure_ReadinessExhausted(t *testing.T) {
	s := newServer()
	s.readyAfter = 1 << 30
	f := newFakeTmux(s.handle)
	p := NewPresenter(NewClient(f), Options{Ready: retry.Policy{Delay: 1, Budget: 1000}})

	err := p.Ensure(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "wait ready", se.Op)
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestEnsure_Idempotent(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)

	require.NoError(t, p.Ensure(context.Background()))
	n := len(f.calls)
	require.NoError(t, p.Ensure(context.Background()))
	assert.Len(t, f.calls, n)
}

func TestEnsure_ReusesSessionNewWindow(t *testing.T) {
	s := newServer()
	s.session = true
	s.addWindow("recon-other")
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)

	require.NoError(t, p.Ensure(context.Background()))
	assert.Empty(t, f.find("new-session"))
	require.Len(t, f.find("new-window"), 1)
	assert.Equal(t, "=Drone:", f.find("new-window")[0][3])
	nw := f.find("new-window")[0]
	assert.Equal(t, []string{"-c", "/work"}, nw[len(nw)-2:])
}

func TestEnsure_ReusesWindowAndKillsExtraPanes(t *testing.T) {
	s := newServer()
	s.session = true
	s.addWindow("recon-10.0.0.5")
	s.windows["recon-10.0.0.5"] = append(s.windows["recon-10.0.0.5"], "%20", "%21")
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)

	require.NoError(t, p.Ensure(context.Background()))
	assert.Empty(t, f.find("new-session"))
	assert.Empty(t, f.find("new-window"))
	assert.Len(t, f.find("kill-pane"), 2)
	require.Len(t, f.find("respawn-pane"), 1)
	assert.Equal(t, []string{"respawn-pane", "-k", "-t", "%1", "-c", "/work"}, f.find("respawn-pane")[0],
		"the reused pane restarts in this run's directory")
	assert.Equal(t, []string{"%1"}, s.windows["recon-10.0.0.5"])

	pane, err := p.Pane(context.Background(), "fast scan")
	require.NoError(t, err)
	assert.Equal(t, "%1", pane)
}

func TestPane_FirstUsesSpareThenSplits(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	first, err := p.Pane(ctx, "fast scan")
	require.NoError(t, err)
	assert.Equal(t, "%1", first)
	assert.Empty(t, f.find("split-window"))

	second, err := p.Pane(ctx, "detailed scan")
	require.NoError(t, err)
	assert.Equal(t, "%2", second)
	assert.Len(t, f.find("split-window"), 1)
	assert.Equal(t, []string{"select-layout", "-t", "@1", "tiled"}, f.find("select-layout")[0])

	again, err := p.Pane(ctx, "fast scan")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	titles := f.find("select-pane")
	require.Len(t, titles, 2)
	assert.Equal(t, []string{"select-pane", "-t", "%2", "-T", "detailed scan"}, titles[1])

	assert.Equal(t, []Assignment{{"fast scan", "%1"}, {"detailed scan", "%2"}}, p.Layout())
}

func TestPane_ConcurrentSplitsSerialized(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	var wg sync.WaitGroup
	panes := make([]string, 12)
	for i := range panes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pane, err := p.Pane(ctx, fmt.Sprintf("stage-%d", i))
			assert.NoError(t, err)
			panes[i] = pane
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, pn := range panes {
		assert.False(t, seen[pn], "pane %s assigned twice", pn)
		seen[pn] = true
	}
	assert.Len(t, p.Layout(), 12)
}

func TestPane_BeforeEnsure(t *testing.T) {
	p := newTestPresenter(newFakeTmux(nil))
	_, err := p.Pane(context.Background(), "fast scan")
	assert.ErrorIs(t, err, ErrNotEnsured)
}

func TestPane_SplitFailure(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))
	_, err := p.Pane(ctx, "fast scan")
	require.NoError(t, err)

	s.failSplit = true
	_, err = p.Pane(ctx, "detailed scan")
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "split", se.Op)
}

func TestAttach(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := newTestPresenter(f)
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	require.NoError(t, p.Attach(ctx))
	assert.Equal(t, []string{"select-window", "-t", "@1"}, f.find("select-window")[0])
	assert.Equal(t, []string{"attach-session", "-t", "=Drone"}, f.find("attach-session")[0])
}

func TestAttach_InsideTmuxSwitches(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := NewPresenter(NewClient(f), Options{
		IsTerminal: func() bool { return true },
		InsideTmux: func() bool { return true },
	})
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	require.NoError(t, p.Attach(ctx))
	assert.Empty(t, f.find("attach-session"))
	assert.Len(t, f.find("switch-client"), 1)
}

func TestAttach_NoTerminal(t *testing.T) {
	s := newServer()
	f := newFakeTmux(s.handle)
	p := NewPresenter(NewClient(f), Options{IsTerminal: func() bool { return false }})
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	n := len(f.calls)
	assert.ErrorIs(t, p.Attach(ctx), ErrNoTerminal)
	assert.Len(t, f.calls, n)
}

func TestAttach_Failure(t *testing.T) {
	s := newServer()
	f := newFakeTmux(func(args []string) (string, error) {
		if args[0] == "attach-session" {
			return "", errors.New("open terminal failed")
		}
		return s.handle(args)
	})
	p := newTestPresenter(f)
	ctx := context.Background()
	require.NoError(t, p.Ensure(ctx))

	var se *SessionError
	require.ErrorAs(t, p.Attach(ctx), &se)
	assert.Equal(t, "attach", se.Op)
}
