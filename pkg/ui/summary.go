package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/recondrone/drone/pkg/pipeline"
)

var titleCaser = cases.Title(language.English)

// StageTitle renders a state label for headings: "port scan" -> "Port Scan".
func StageTitle(s pipeline.State) string {
	return titleCaser.String(s.Label())
}

// summaryStages are the timed stages shown in the summary, in run order.
var summaryStages = []pipeline.State{
	pipeline.StatePortScanning,
	pipeline.StateServiceScanning,
	pipeline.StateDeciding,
	pipeline.StateEnumerating,
}

// PrintSummary prints the end-of-run summary. A nil result prints nothing.
func PrintSummary(res *pipeline.Result) {
	if res == nil || IsSilent() {
		return
	}
	WriteSummary(out(), res)
}

// WriteSummary renders res to w.
func WriteSummary(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, SectionStyle.Render("Run Summary"))
	printOption(w, "Target", res.Target)
	printOption(w, "Mode", res.Mode)
	printOption(w, "State", StateStyle(string(res.State)).Render(string(res.State)))
	printOption(w, "Duration", formatDuration(res.Duration))
	printOption(w, "Open Ports", joinPorts(res.Ports))
	printOption(w, "Web Ports", joinPorts(res.WebPorts))
	if res.Partial {
		fmt.Fprintln(w, WarnStyle.Render("  [!] service scan incomplete, findings are partial"))
	}

	var timed []pipeline.State
	for _, s := range summaryStages {
		if _, ok := res.Timings[s]; ok {
			timed = append(timed, s)
		}
	}
	if len(timed) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Stages"))
		for _, s := range timed {
			printOption(w, StageTitle(s), formatDuration(res.Timings[s]))
		}
	}

	if len(res.Launches) == 0 {
		return
	}
	fmt.Fprintln(w, SectionStyle.Render("Launches"))
	for _, l := range res.Launches {
		fmt.Fprintln(w, launchLine(l))
	}
	if n := res.FailedLaunches(); n > 0 {
		fmt.Fprintln(w, FailStyle.Render(fmt.Sprintf("  [X] %d of %d launches failed", n, len(res.Launches))))
	}
}

func launchLine(l *pipeline.Launch) string {
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(BracketStyle.Render("["))
	name := l.Command.Tool
	if name == "" {
		name = string(l.Command.Role)
	}
	b.WriteString(AccentStyle.Render(name))
	b.WriteString(BracketStyle.Render("] "))
	b.WriteString(URLStyle.Render(l.URL))
	b.WriteString(" ")
	switch {
	case l.Failed():
		b.WriteString(FailStyle.Render("failed: " + l.ErrorText()))
	case l.ExitCode != nil:
		b.WriteString(ExitStyle(*l.ExitCode).Render("exit " + strconv.Itoa(*l.ExitCode)))
	default:
		b.WriteString(PassStyle.Render("launched"))
	}
	return b.String()
}

func joinPorts(ports []int) string {
	if len(ports) == 0 {
		return "none"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
