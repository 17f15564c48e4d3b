package writers

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
	"github.com/recondrone/drone/pkg/scan"
)

// Compile-time interface check.
var _ dispatcher.Writer = (*MarkdownWriter)(nil)

// MarkdownConfig configures the Markdown summary writer.
type MarkdownConfig struct {
	// Title is the document title (default: "Drone Recon Summary").
	Title string

	// Template replaces the built-in template. Sprig functions and the
	// helpers in templateFuncs are available.
	Template string
}

// MarkdownWriter collects a run's events and renders one Markdown
// document on Close. The writer is safe for concurrent use.
type MarkdownWriter struct {
	w    io.Writer
	mu   sync.Mutex
	tmpl *template.Template
	data SummaryData
}

// SummaryData is what the summary template renders.
type SummaryData struct {
	Title     string
	RunID     string
	Target    string
	Mode      string
	Session   string
	Window    string
	OutputDir string
	Version   string
	Started   time.Time

	Ports      []int
	PortReport string
	Findings   []scan.ServiceFinding
	Partial    bool
	Stages     []events.StageEvent
	Launches   []events.LaunchEvent
	Warnings   []events.WarningEvent
	Complete   *events.CompleteEvent
}

const summaryTemplate = `# {{ .Title }}

| | |
|---|---|
| Target | ` + "`{{ .Target }}`" + ` |
| Run | ` + "`{{ .RunID }}`" + ` |
| Mode | {{ .Mode | default "unknown" }} |
{{- if .Session }}
| Session | ` + "`{{ .Session }}:{{ .Window }}`" + ` |
{{- end }}
| Output | ` + "`{{ .OutputDir }}`" + ` |
{{- if not .Started.IsZero }}
| Started | {{ .Started | date "2006-01-02 15:04:05 MST" }} |
{{- end }}
{{- with .Complete }}
| Result | **{{ .State }}** (exit {{ .ExitCode }}) |
| Duration | {{ human .Duration }} |
{{- if .ExitReason }}
| Reason | {{ .ExitReason | cell }} |
{{- end }}
{{- end }}

## Open Ports

{{ if .Ports }}{{ join ", " .Ports }}{{ else }}No open ports found.{{ end }}
{{- if .PortReport }}

Report: ` + "`{{ .PortReport }}`" + `
{{- end }}
{{- if .Findings }}

## Services

| Port | Proto | Service | Web | Banner |
|---:|---|---|:-:|---|
{{- range .Findings }}
| {{ .Port }} | {{ .Protocol }} | {{ .Service | default "-" }} | {{ if .IsWeb }}yes{{ else }}no{{ end }} | {{ .Banner | cell }} |
{{- end }}
{{- if .Partial }}

> The service scan did not finish; findings are partial.
{{- end }}
{{- end }}
{{- if .Stages }}

## Stages

| Stage | Elapsed |
|---|---:|
{{- range .Stages }}
| {{ .From | replace "_" " " | title }} | {{ human .Elapsed }} |
{{- end }}
{{- end }}
{{- if .Launches }}

## Enumeration

| Tool | URL | Report | Status |
|---|---|---|---|
{{- range .Launches }}
| {{ .Tool | default .Role }} | {{ .URL }} | {{ if .Report }}` + "`{{ .Report }}`" + `{{ else }}-{{ end }} | {{ if .Failed }}failed: {{ .Error | cell }}{{ else }}launched{{ end }} |
{{- end }}
{{- end }}
{{- if .Warnings }}

## Warnings
{{ range .Warnings }}
- **{{ .Stage | replace "_" " " | title }}**: {{ .Message }}
{{- end }}
{{- end }}

---
Generated by {{ .Tool }} v{{ .Version }}
`

// templateFuncs are the drone helpers added on top of sprig.
func templateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["human"] = humanDuration
	funcs["cell"] = tableCell
	return funcs
}

// NewMarkdownWriter parses the template up front and returns an error if
// it is invalid.
func NewMarkdownWriter(w io.Writer, config MarkdownConfig) (*MarkdownWriter, error) {
	if config.Title == "" {
		config.Title = "Drone Recon Summary"
	}
	text := config.Template
	if text == "" {
		text = summaryTemplate
	}
	tmpl, err := template.New(defaults.ToolName).Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse summary template: %w", err)
	}
	return &MarkdownWriter{
		w:    w,
		tmpl: tmpl,
		data: SummaryData{Title: config.Title},
	}, nil
}

// Write folds an event into the summary.
func (mw *MarkdownWriter) Write(event events.Event) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	d := &mw.data
	if d.RunID == "" {
		d.RunID = event.RunID()
	}

	switch e := event.(type) {
	case events.StartEvent:
		d.Target = e.Target
		d.Mode = e.Mode
		d.Session = e.Session
		d.Window = e.Window
		d.OutputDir = e.OutputDir
		d.Version = e.Version
		d.Started = e.Timestamp()
	case events.StageEvent:
		if e.Elapsed > 0 {
			d.Stages = append(d.Stages, e)
		}
	case events.PortsEvent:
		d.Ports = e.Ports
		d.PortReport = e.Report
	case events.FindingsEvent:
		d.Findings = e.Findings
		d.Partial = e.Partial
	case events.LaunchEvent:
		d.Launches = append(d.Launches, e)
	case events.WarningEvent:
		d.Warnings = append(d.Warnings, e)
	case events.CompleteEvent:
		c := e
		d.Complete = &c
		if d.Target == "" {
			d.Target = e.Target
		}
	}
	return nil
}

// Flush is a no-op: the document is rendered once, on Close.
func (mw *MarkdownWriter) Flush() error {
	return nil
}

// Close renders the summary, writes it out and closes the underlying
// writer if it is an io.Closer.
func (mw *MarkdownWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	data := struct {
		SummaryData
		Tool string
	}{mw.data, defaults.ToolName}
	if data.Version == "" {
		data.Version = defaults.Version
	}

	var buf bytes.Buffer
	err := mw.tmpl.Execute(&buf, data)
	if err == nil {
		_, err = mw.w.Write(buf.Bytes())
	}
	if closer, ok := mw.w.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// SupportsEvent returns true for all event types.
func (mw *MarkdownWriter) SupportsEvent(_ events.EventType) bool {
	return true
}

func humanDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// tableCell keeps text inside one Markdown table cell.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
