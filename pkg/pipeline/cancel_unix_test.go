//go:build !windows

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/procexec"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tools"
)

// pidLauncher starts real processes and remembers the pid of every
// enumeration tool. The first enumeration start calls onEnumerate.
type pidLauncher struct {
	inner       *procexec.Launcher
	onEnumerate func()

	mu   sync.Mutex
	pids []int
}

func (l *pidLauncher) Start(ctx context.Context, c tools.Command) (tools.Handle, error) {
	h, err := l.inner.Start(ctx, c)
	if err != nil {
		return nil, err
	}
	if c.Role == tools.RolePortScan || c.Role == tools.RoleServiceScan {
		return h, nil
	}
	l.mu.Lock()
	l.pids = append(l.pids, h.(*procexec.Process).Pid())
	first := len(l.pids) == 1
	l.mu.Unlock()
	if first && l.onEnumerate != nil {
		l.onEnumerate()
	}
	return h, nil
}

type headlessLauncherMode struct{ launcher tools.Launcher }

func (m headlessLauncherMode) Name() string                     { return "headless" }
func (m headlessLauncherMode) Requirements() []deps.Requirement { return nil }
func (m headlessLauncherMode) Open(target.Target, string, *slog.Logger) (tools.Launcher, Presenter) {
	return m.launcher, nil
}

// writeReport copies its first argument into the report file.
func writeReport(name, report, content string) tools.Tool {
	return tools.Tool{
		Name:   name,
		Binary: "sh",
		Args:   []string{"-c", `printf '%s' "$1" > "$0"`, "{{report}}", content},
		Report: report,
	}
}

func sleeper(report string) tools.Tool {
	return tools.Tool{
		Name:   "sleeper",
		Binary: "sh",
		Args:   []string{"-c", "exec sleep 30", "{{report}}"},
		Report: report,
	}
}

func TestRun_CancelDuringFanOutEndsRealProcesses(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.Options.SkipDeps = true
	h.pipeline.Options.Tools = tools.Set{
		tools.RolePortScan:    writeReport("nmap", "ports.txt", fastReport),
		tools.RoleServiceScan: writeReport("nmap", "services.txt", serviceReport),
		tools.RoleBruteForce:  sleeper("brute_{{port}}.txt"),
		tools.RoleFingerprint: sleeper("fingerprint_{{port}}.txt"),
		tools.RoleVulnScan:    sleeper("vuln_{{port}}.txt"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	launcher := &pidLauncher{
		inner:       &procexec.Launcher{Grace: 200 * time.Millisecond, Logger: quietLogger()},
		onEnumerate: cancel,
	}
	h.pipeline.Mode = headlessLauncherMode{launcher: launcher}

	start := time.Now()
	res, err := h.pipeline.Run(ctx, "10.0.0.5")

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateFailed, res.State)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.Len(t, launcher.pids, 1, "no launch after cancellation")
	for _, pid := range launcher.pids {
		assert.True(t, errors.Is(unix.Kill(pid, 0), unix.ESRCH), "process %d still running", pid)
	}
}
