package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/recondrone/drone/pkg/output/events"
)

func newRecordedOTelHook(t *testing.T) (*OTelHook, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return newOTelHook(OTelOptions{}, tp), rec
}

func spanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestOTelHook_RunTrace(t *testing.T) {
	hook, rec := newRecordedOTelHook(t)
	for _, ev := range runEvents() {
		require.NoError(t, hook.OnEvent(context.Background(), ev))
	}

	spans := rec.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"port_scanning", "service_scanning", "deciding", "enumerating", "drone.run"}, names)

	root := spanByName(spans, "drone.run")
	require.NotNil(t, root)
	assert.Equal(t, codes.Ok, root.Status().Code)
	assert.Equal(t, 92*time.Second, root.EndTime().Sub(root.StartTime()))

	for _, s := range spans[:4] {
		assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), s.Name())
		assert.Equal(t, root.SpanContext().TraceID(), s.SpanContext().TraceID(), s.Name())
	}

	portScan := spanByName(spans, "port_scanning")
	assert.Equal(t, 40*time.Second, portScan.EndTime().Sub(portScan.StartTime()))
	require.Len(t, portScan.Events(), 1)
	assert.Equal(t, "ports_found", portScan.Events()[0].Name)

	enum := spanByName(spans, "enumerating")
	var evNames []string
	for _, e := range enum.Events() {
		evNames = append(evNames, e.Name)
	}
	assert.Equal(t, []string{"launched", "launch_failed", "warning"}, evNames)
}

func TestOTelHook_FailedRun(t *testing.T) {
	hook, rec := newRecordedOTelHook(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, hook.OnEvent(ctx, events.StartEvent{BaseEvent: base(events.EventTypeStart, now), Target: "10.0.0.5"}))
	require.NoError(t, hook.OnEvent(ctx, events.StageEvent{BaseEvent: base(events.EventTypeStage, now), From: "validating", To: "port_scanning"}))
	require.NoError(t, hook.OnEvent(ctx, events.StageEvent{BaseEvent: base(events.EventTypeStage, now), From: "port_scanning", To: "failed"}))
	require.NoError(t, hook.OnEvent(ctx, events.CompleteEvent{
		BaseEvent:  base(events.EventTypeComplete, now),
		State:      "failed",
		ExitCode:   4,
		ExitReason: "port scan: nmap exited with status 1",
	}))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	root := spanByName(spans, "drone.run")
	require.NotNil(t, root)
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, "port scan: nmap exited with status 1", root.Status().Description)
}

func TestOTelHook_ShutdownEndsOpenSpans(t *testing.T) {
	hook, rec := newRecordedOTelHook(t)
	ctx := context.Background()
	evs := runEvents()
	require.NoError(t, hook.OnEvent(ctx, evs[0]))
	require.NoError(t, hook.OnEvent(ctx, evs[1]))

	require.NoError(t, hook.Shutdown(ctx))
	assert.Len(t, rec.Ended(), 2)

	require.NoError(t, hook.Shutdown(ctx), "shutdown is idempotent")
	require.NoError(t, hook.OnEvent(ctx, evs[0]), "events after shutdown are ignored")
	assert.Len(t, rec.Started(), 2)
}

func TestOTelHook_EventsWithoutRunAreIgnored(t *testing.T) {
	hook, rec := newRecordedOTelHook(t)
	evs := runEvents()
	for _, ev := range evs[1:] {
		require.NoError(t, hook.OnEvent(context.Background(), ev))
	}
	assert.Empty(t, rec.Started())
}

func TestNewOTelHook_Defaults(t *testing.T) {
	hook, err := NewOTelHook(OTelOptions{Insecure: true})
	require.NoError(t, err, "the exporter connects lazily")
	assert.Equal(t, "localhost:4317", hook.Endpoint())
	assert.Nil(t, hook.EventTypes())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = hook.Shutdown(ctx)
}
