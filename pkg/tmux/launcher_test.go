package tmux

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recondrone/drone/pkg/tools"
)

func TestWrapCommand(t *testing.T) {
	c := tools.Command{Binary: "nmap", Args: []string{"-p-", "10.0.0.5"}}
	got := WrapCommand("fast scan", c, "/tmp/x/drone-r-1.exit", "drone-r-1")

	want := `sh -c 'echo '\''== FAST SCAN =='\''; nmap -p- 10.0.0.5; echo $? > /tmp/x/drone-r-1.exit; tmux wait-for -S drone-r-1'`
	assert.Equal(t, want, got)
}

// launcherFixture wires a PaneLauncher to the in-memory server. When a
// wait-for arrives, exitStatus is written to the matching exit file,
// standing in for the shell in the pane.
func launcherFixture(t *testing.T, exitStatus string) (*PaneLauncher, *fakeTmux, string) {
	t.Helper()
	dir := t.TempDir()
	s := newServer()
	f := newFakeTmux(func(args []string) (string, error) {
		if args[0] == "wait-for" && exitStatus != "" {
			path := filepath.Join(dir, args[1]+".exit")
			if err := os.WriteFile(path, []byte(exitStatus), 0o644); err != nil {
				return "", err
			}
			return "", nil
		}
		return s.handle(args)
	})
	p := newTestPresenter(f)
	require.NoError(t, p.Ensure(context.Background()))
	return NewPaneLauncher(p, dir, "run1"), f, dir
}

func TestPaneLauncher_RunsInPaneAndReadsStatus(t *testing.T) {
	l, f, dir := launcherFixture(t, "0\n")
	ctx := context.Background()

	cmd := tools.Command{Title: "fast scan", Tool: "nmap", Binary: "nmap", Args: []string{"-p-", "10.0.0.5"}}
	h, err := l.Start(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, "%1", h.(*PaneHandle).Pane())

	var typed []string
	for _, c := range f.find("send-keys") {
		if len(c) == 6 && c[3] == "-l" {
			typed = append(typed, c[5])
		}
	}
	require.Len(t, typed, 2)
	assert.Equal(t, "clear", typed[0])
	assert.Equal(t, WrapCommand("fast scan", cmd, filepath.Join(dir, "drone-run1-1.exit"), "drone-run1-1"), typed[1])

	code, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"wait-for", "drone-run1-1"}, f.find("wait-for")[0])
	assert.NoFileExists(t, filepath.Join(dir, "drone-run1-1.exit"), "status file is removed once read")
}

func TestPaneLauncher_NonZeroStatus(t *testing.T) {
	l, _, _ := launcherFixture(t, "1")
	h, err := l.Start(context.Background(), tools.Command{Title: "detailed scan", Binary: "nmap"})
	require.NoError(t, err)

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestPaneLauncher_MissingStatus(t *testing.T) {
	l, _, _ := launcherFixture(t, "")
	h, err := l.Start(context.Background(), tools.Command{Title: "fast scan", Binary: "nmap"})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoExitCode)
}

func TestPaneLauncher_GarbageStatus(t *testing.T) {
	l, _, _ := launcherFixture(t, "oops")
	h, err := l.Start(context.Background(), tools.Command{Title: "fast scan", Binary: "nmap"})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoExitCode)
}

func TestPaneLauncher_CancelInterruptsPane(t *testing.T) {
	l, f, _ := launcherFixture(t, "0")
	h, err := l.Start(context.Background(), tools.Command{Title: "fast scan", Binary: "nmap"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	var interrupted bool
	for _, c := range f.find("send-keys") {
		if strings.Join(c, " ") == "send-keys -t %1 C-c" {
			interrupted = true
		}
	}
	assert.True(t, interrupted, "pane should receive C-c")
}

func TestPaneLauncher_DistinctChannelsAndPanes(t *testing.T) {
	l, _, _ := launcherFixture(t, "0")
	ctx := context.Background()

	var panes []string
	for _, title := range []string{"directory brute-force :80", "fingerprint :80", "vulnerability scan :80"} {
		h, err := l.Start(ctx, tools.Command{Title: title, Binary: "x"})
		require.NoError(t, err)
		panes = append(panes, h.(*PaneHandle).Pane())
		assert.Contains(t, h.(*PaneHandle).channel, "drone-run1-")
	}
	assert.Equal(t, []string{"%1", "%2", "%3"}, panes)
}

func TestPaneHandle_Stop(t *testing.T) {
	l, f, _ := launcherFixture(t, "0")
	h, err := l.Start(context.Background(), tools.Command{Title: "fingerprint :80", Binary: "whatweb"})
	require.NoError(t, err)

	require.NoError(t, h.Stop(context.Background()))
	last := f.find("send-keys")
	assert.Equal(t, []string{"send-keys", "-t", "%1", "C-c"}, last[len(last)-1])
}
