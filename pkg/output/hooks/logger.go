// Package hooks turns run events into logs, metrics and traces.
package hooks

import (
	"context"
	"log/slog"

	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
)

// orDefault returns l if non-nil, otherwise slog.Default().
func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

var _ dispatcher.Hook = (*LoggerHook)(nil)

// LoggerHook writes one structured record per event. Discoveries and the
// final outcome are logged at info; everything else at debug.
type LoggerHook struct {
	log *slog.Logger
}

// NewLoggerHook returns a hook logging to logger, or slog.Default() if nil.
func NewLoggerHook(logger *slog.Logger) *LoggerHook {
	return &LoggerHook{log: orDefault(logger).With(slog.String("component", "events"))}
}

// EventTypes returns nil: every event is logged.
func (h *LoggerHook) EventTypes() []events.EventType { return nil }

// OnEvent logs the event.
func (h *LoggerHook) OnEvent(ctx context.Context, event events.Event) error {
	attrs := []slog.Attr{
		slog.String("event", string(event.EventType())),
		slog.String("run_id", event.RunID()),
	}
	level := slog.LevelDebug

	switch e := event.(type) {
	case events.StartEvent:
		attrs = append(attrs,
			slog.String("target", e.Target),
			slog.String("mode", e.Mode),
			slog.String("output_dir", e.OutputDir))
	case events.StageEvent:
		attrs = append(attrs,
			slog.String("from", e.From),
			slog.String("to", e.To),
			slog.Duration("elapsed", e.Elapsed))
	case events.PortsEvent:
		level = slog.LevelInfo
		attrs = append(attrs, slog.Any("ports", e.Ports), slog.String("report", e.Report))
	case events.FindingsEvent:
		level = slog.LevelInfo
		attrs = append(attrs,
			slog.Int("findings", len(e.Findings)),
			slog.Int("web", e.WebCount()),
			slog.Bool("partial", e.Partial))
	case events.LaunchEvent:
		attrs = append(attrs,
			slog.String("tool", e.Tool),
			slog.String("url", e.URL))
		if e.Failed() {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", e.Error))
		}
	case events.WarningEvent:
		attrs = append(attrs, slog.String("stage", e.Stage), slog.String("message", e.Message))
	case events.CompleteEvent:
		level = slog.LevelInfo
		if !e.Success {
			level = slog.LevelError
		}
		attrs = append(attrs,
			slog.String("state", e.State),
			slog.Int("exit_code", e.ExitCode),
			slog.Int("launched", e.Launched),
			slog.Int("failed_launches", e.Failed),
			slog.Duration("duration", e.Duration))
		if e.ExitReason != "" {
			attrs = append(attrs, slog.String("reason", e.ExitReason))
		}
	}

	h.log.LogAttrs(ctx, level, "run event", attrs...)
	return nil
}
