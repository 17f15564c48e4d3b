package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recondrone/drone/pkg/pipeline"
	"github.com/recondrone/drone/pkg/scan"
	"github.com/recondrone/drone/pkg/tools"
)

func TestMain(m *testing.M) {
	SetNoColor(true)
	os.Exit(m.Run())
}

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetSilent(false)
	})
	return &buf
}

func TestPrintConfigBanner_Order(t *testing.T) {
	buf := capture(t)
	PrintConfigBanner(map[string]string{
		"Wordlist": "",
		"Output":   "/tmp/scans",
		"Target":   "10.0.0.5",
		"Zeta":     "last",
		"Mode":     "session",
	})

	out := buf.String()
	assert.NotContains(t, out, "Wordlist", "empty values are skipped")
	target := strings.Index(out, "Target")
	mode := strings.Index(out, "Mode")
	output := strings.Index(out, "Output")
	zeta := strings.Index(out, "Zeta")
	require.True(t, target >= 0 && mode >= 0 && output >= 0 && zeta >= 0, out)
	assert.Less(t, target, mode)
	assert.Less(t, mode, output)
	assert.Less(t, output, zeta, "unknown keys follow the known ones")
	assert.Contains(t, out, " :: Target           : 10.0.0.5")
}

func TestSilent(t *testing.T) {
	buf := capture(t)
	SetSilent(true)
	assert.True(t, IsSilent())

	PrintBanner()
	PrintInfo("info")
	PrintWarning("warn")
	PrintSummary(&pipeline.Result{Target: "x"})
	assert.Empty(t, buf.String())

	PrintError("boom")
	assert.Contains(t, buf.String(), "[X] boom", "errors are always shown")
}

func TestMessages(t *testing.T) {
	buf := capture(t)
	PrintBanner()
	PrintInfo("port scan started")
	PrintSuccess("attached")
	PrintWarning("no web services detected")

	out := buf.String()
	assert.Contains(t, out, "v"+Version)
	assert.Contains(t, out, "* port scan started")
	assert.Contains(t, out, "[+] attached")
	assert.Contains(t, out, "[!] no web services detected")
}

func TestStageTitle(t *testing.T) {
	assert.Equal(t, "Port Scan", StageTitle(pipeline.StatePortScanning))
	assert.Equal(t, "Service Scan", StageTitle(pipeline.StateServiceScanning))
	assert.Equal(t, "Enumeration", StageTitle(pipeline.StateEnumerating))
	assert.Equal(t, "Deciding", StageTitle(pipeline.StateDeciding))
}

func TestWriteSummary(t *testing.T) {
	zero, one := 0, 1
	web := scan.ServiceFinding{Port: 80, Protocol: "tcp", IsWeb: true, Service: "http"}
	res := &pipeline.Result{
		Target:   "10.0.0.5",
		Mode:     "headless",
		State:    pipeline.StateAttached,
		Ports:    []int{22, 80},
		WebPorts: []int{80},
		Partial:  true,
		Duration: 90 * time.Second,
		Timings: map[pipeline.State]time.Duration{
			pipeline.StatePortScanning:    40 * time.Second,
			pipeline.StateServiceScanning: 50 * time.Second,
		},
		Launches: []*pipeline.Launch{
			{Finding: web, URL: "http://10.0.0.5:80", Command: tools.Command{Role: tools.RoleBruteForce, Tool: "feroxbuster"}, ExitCode: &zero},
			{Finding: web, URL: "http://10.0.0.5:80", Command: tools.Command{Role: tools.RoleFingerprint, Tool: "whatweb"}, ExitCode: &one},
			{Finding: web, URL: "http://10.0.0.5:80", Command: tools.Command{Role: tools.RoleVulnScan}, Err: errors.New("pane split failed")},
		},
	}

	var buf bytes.Buffer
	WriteSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "10.0.0.5")
	assert.Contains(t, out, "attached")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "22, 80")
	assert.Contains(t, out, "findings are partial")
	assert.Contains(t, out, "Port Scan")
	assert.Contains(t, out, "Service Scan")
	assert.NotContains(t, out, "Enumeration", "untimed stages are omitted")
	assert.Contains(t, out, "[feroxbuster] http://10.0.0.5:80 exit 0")
	assert.Contains(t, out, "[whatweb] http://10.0.0.5:80 exit 1")
	assert.Contains(t, out, "[vuln_scan] http://10.0.0.5:80 failed: pane split failed")
	assert.Contains(t, out, "1 of 3 launches failed")
}

func TestWriteSummary_NoPorts(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, &pipeline.Result{Target: "example.com", State: pipeline.StateAttached})
	assert.Contains(t, buf.String(), "none")
	assert.NotContains(t, buf.String(), "Launches")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ok  done", sanitize("ok ✅ done"))
	assert.Equal(t, "café", sanitize("café"))
	assert.Equal(t, "warn", sanitize("warn\uFE0F"))
}

func TestIcon(t *testing.T) {
	got := Icon("▸", ">")
	if UnicodeTerminal() {
		assert.Equal(t, "▸", got)
	} else {
		assert.Equal(t, ">", got)
	}
}
