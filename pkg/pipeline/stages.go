package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/output/events"
	"github.com/recondrone/drone/pkg/scan"
	"github.com/recondrone/drone/pkg/tools"
)

// portScan runs the fast full-range scan and records the open ports.
// Any failure here is fatal; the scan is never retried.
func (p *Pipeline) portScan(ctx context.Context, rc *RunContext) error {
	cmd, err := p.build(rc, tools.RolePortScan, rc.vars(nil, ""))
	if err != nil {
		return err
	}

	out, err := p.runStage(ctx, rc, cmd, orDefault(p.Options.PortTimeout, duration.PortScan))
	if err != nil {
		return err
	}
	if out.timedOut {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, ExitCode: -1, Err: ErrStageTimeout}
	}
	if out.code != 0 {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, ExitCode: out.code, Err: ErrNonZeroExit}
	}

	data, err := os.ReadFile(cmd.Report)
	if err != nil {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, Err: fmt.Errorf("read report: %w", err)}
	}
	ports, err := scan.ParseOpenPorts(bytes.NewReader(data))
	if err != nil {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, Err: fmt.Errorf("parse report: %w", err)}
	}

	rc.Ports = ports
	rc.Logger.Info("open ports", slog.String("ports", ports.String()), slog.Int("count", ports.Len()))
	rc.emit(ctx, events.PortsEvent{
		BaseEvent: events.NewBase(events.EventTypePorts, rc.ID),
		Target:    rc.Target.String(),
		Ports:     ports.Ports(),
		Report:    cmd.Report,
	})
	return nil
}

// serviceScan runs version detection on exactly the open ports. A tool
// that exits non-zero or runs out of time still leaves a usable report,
// so both only produce a warning and the flushed lines are parsed.
func (p *Pipeline) serviceScan(ctx context.Context, rc *RunContext) error {
	cmd, err := p.build(rc, tools.RoleServiceScan, rc.vars(nil, ""))
	if err != nil {
		return err
	}

	timeout := orDefault(p.Options.ServiceTimeout, duration.ServiceScan)
	out, err := p.runStage(ctx, rc, cmd, timeout)
	if err != nil {
		return err
	}
	switch {
	case out.timedOut:
		rc.Partial = true
		rc.warn(ctx, "service scan timed out, using partial report", slog.Duration("timeout", timeout))
	case out.code != 0:
		rc.Partial = true
		rc.warn(ctx, fmt.Sprintf("service scan exited with status %d, using partial report", out.code))
	}

	data, err := os.ReadFile(cmd.Report)
	if err != nil {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, ExitCode: out.code, Err: fmt.Errorf("read report: %w", err)}
	}
	if rc.Partial {
		if done, _ := scan.Complete(bytes.NewReader(data)); done {
			rc.Logger.Info("service report is complete despite exit status")
		}
	}

	findings, err := scan.ParseServices(bytes.NewReader(data), rc.Ports)
	if err != nil {
		return &ScanExecutionError{Stage: rc.State, Tool: cmd.Tool, ExitCode: out.code, Err: fmt.Errorf("parse report: %w", err)}
	}

	rc.Findings = findings
	for _, f := range findings {
		rc.Logger.Debug("service",
			slog.Int("port", f.Port),
			slog.String("service", f.Service),
			slog.Bool("web", f.IsWeb))
	}
	rc.emit(ctx, events.FindingsEvent{
		BaseEvent: events.NewBase(events.EventTypeFindings, rc.ID),
		Target:    rc.Target.String(),
		Findings:  findings,
		Partial:   rc.Partial,
		Report:    cmd.Report,
	})
	return nil
}

// decide selects the web ports to enumerate: all web findings in port
// order, capped at MaxWebPorts. It returns a non-empty reason when there
// is nothing to enumerate.
func (p *Pipeline) decide(ctx context.Context, rc *RunContext) string {
	web := scan.WebOnly(rc.Findings)
	if len(web) == 0 {
		return "no web services detected"
	}

	limit := p.Options.MaxWebPorts
	if limit < 1 {
		limit = 1
	}
	if len(web) > limit {
		var skipped []int
		for _, f := range web[limit:] {
			skipped = append(skipped, f.Port)
		}
		rc.warn(ctx, fmt.Sprintf("enumerating %d of %d web ports, skipping %v", limit, len(web), skipped))
		web = web[:limit]
	}

	rc.Selected = web
	return ""
}

// enumerate launches every enumeration tool for every selected port.
// Launches are paced but independent: one failing never stops the rest.
// In session mode the tools keep running in their panes; headless runs
// wait for them.
func (p *Pipeline) enumerate(ctx context.Context, rc *RunContext) error {
	limit := rate.Limit(p.Options.LaunchRate)
	if p.Options.LaunchRate <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range rc.Selected {
		f := rc.Selected[i]
		for _, role := range tools.EnumerationRoles {
			if err := limiter.Wait(ctx); err != nil {
				p.stopLaunches(ctx, rc)
				return cancelled(err)
			}
			p.launch(ctx, rc, f, role)
			if ctx.Err() != nil {
				p.stopLaunches(ctx, rc)
				return cancelled(ctx.Err())
			}
		}
	}

	if rc.Presenter == nil {
		return p.waitEnumeration(ctx, rc)
	}
	return nil
}

func (p *Pipeline) launch(ctx context.Context, rc *RunContext, f scan.ServiceFinding, role tools.Role) {
	l := &Launch{Finding: f, URL: f.URL(rc.Target.URLHost())}
	rc.Launches = append(rc.Launches, l)

	log := rc.Logger.With(slog.String("role", string(role)), slog.Int("port", f.Port))

	cmd, err := p.Options.Tools.Build(role, p.Options.OutputDir, rc.vars(&f, p.Options.Wordlist))
	if err == nil {
		cmd.Title = fmt.Sprintf("%s :%d", role.Label(), f.Port)
		l.Command = cmd
		l.handle, err = rc.Launcher.Start(ctx, cmd)
	}
	if err != nil {
		l.Err = err
		if l.Command.Role == "" {
			l.Command.Role = role
		}
		log.Warn("launch failed", slog.String("error", err.Error()))
	} else {
		log.Info("launched", slog.String("tool", cmd.Tool), slog.String("report", cmd.Report))
	}

	ev := events.LaunchEvent{
		BaseEvent: events.NewBase(events.EventTypeLaunch, rc.ID),
		Role:      string(role),
		Tool:      l.Command.Tool,
		Port:      f.Port,
		URL:       l.URL,
		Report:    l.Command.Report,
	}
	if l.Command.Binary != "" {
		ev.Command = l.Command.String()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	rc.emit(ctx, ev)
}

// stopLaunches stops every tool already started by an interrupted
// fan-out. ctx is normally done by now, so the stops run on a detached
// context of their own.
func (p *Pipeline) stopLaunches(ctx context.Context, rc *RunContext) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), duration.StopLaunches)
	defer cancel()

	var wg sync.WaitGroup
	for _, l := range rc.Launches {
		if l.handle == nil {
			continue
		}
		wg.Add(1)
		go func(l *Launch) {
			defer wg.Done()
			if err := l.handle.Stop(sctx); err != nil {
				rc.Logger.Warn("stop failed",
					slog.String("tool", l.Command.Tool),
					slog.Int("port", l.Finding.Port),
					slog.String("error", err.Error()))
			}
		}(l)
	}
	wg.Wait()
}

// waitEnumeration blocks until every launched tool exits. Exit statuses
// are recorded but never fail the run; cancellation does.
func (p *Pipeline) waitEnumeration(ctx context.Context, rc *RunContext) error {
	wctx, cancel := context.WithTimeout(ctx, orDefault(p.Options.EnumerationTimeout, duration.Enumeration))
	defer cancel()

	var wg sync.WaitGroup
	for _, l := range rc.Launches {
		if l.handle == nil {
			continue
		}
		wg.Add(1)
		go func(l *Launch) {
			defer wg.Done()
			code, err := l.handle.Wait(wctx)
			if err != nil {
				l.WaitErr = err
				return
			}
			l.ExitCode = &code
		}(l)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	for _, l := range rc.Launches {
		switch {
		case l.handle == nil:
		case l.WaitErr != nil:
			rc.warn(ctx, fmt.Sprintf("%s on port %d did not finish: %v", l.Command.Tool, l.Finding.Port, l.WaitErr))
		case *l.ExitCode != 0:
			rc.Logger.Info("enumeration tool exited", slog.String("tool", l.Command.Tool), slog.Int("port", l.Finding.Port), slog.Int("status", *l.ExitCode))
		}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
