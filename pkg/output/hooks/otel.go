package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
)

// Compile-time interface checks.
var (
	_ dispatcher.Hook       = (*OTelHook)(nil)
	_ dispatcher.Shutdowner = (*OTelHook)(nil)
)

// OTelHook exports a run as a trace: one root span for the run and one
// child span per pipeline stage. Discoveries, launches and warnings are
// recorded as span events on the stage that produced them.
type OTelHook struct {
	opts           OTelOptions
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	mu        sync.Mutex
	rootSpan  trace.Span
	rootCtx   context.Context
	stageSpan trace.Span
	closed    bool
}

// OTelOptions configures the OpenTelemetry hook behavior.
type OTelOptions struct {
	// Endpoint is the OTLP gRPC endpoint (default: defaults.OTelEndpoint).
	Endpoint string

	// ServiceName is the service name for traces (default: defaults.ToolName).
	ServiceName string

	// Insecure disables TLS to the collector.
	Insecure bool

	// Headers are sent with every export.
	Headers map[string]string

	// ShutdownTimeout bounds the final flush (default: duration.OTelShutdown).
	ShutdownTimeout time.Duration

	// ConnectionTimeout bounds exporter setup (default: duration.OTelConnect).
	ConnectionTimeout time.Duration
}

func (o *OTelOptions) applyDefaults() {
	if o.ServiceName == "" {
		o.ServiceName = defaults.ToolName
	}
	if o.Endpoint == "" {
		o.Endpoint = defaults.OTelEndpoint
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = duration.OTelShutdown
	}
	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = duration.OTelConnect
	}
}

// NewOTelHook creates a hook exporting over OTLP gRPC. The exporter
// connects lazily, so an unreachable collector never blocks a run.
func NewOTelHook(opts OTelOptions) (*OTelHook, error) {
	opts.applyDefaults()

	var grpcOpts []grpc.DialOption
	if opts.Insecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithDialOption(grpcOpts...),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectionTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(opts.ServiceName)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return newOTelHook(opts, tp), nil
}

// newOTelHook wires the hook to an existing provider.
func newOTelHook(opts OTelOptions, tp *sdktrace.TracerProvider) *OTelHook {
	opts.applyDefaults()
	return &OTelHook{
		opts:           opts,
		tracerProvider: tp,
		tracer:         tp.Tracer(defaults.ToolName + "/pipeline"),
	}
}

func newResource(service string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(defaults.Version),
	)
}

// OnEvent records the event on the current trace.
func (h *OTelHook) OnEvent(ctx context.Context, event events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	switch e := event.(type) {
	case events.StartEvent:
		h.handleStart(ctx, e)
	case events.StageEvent:
		h.handleStage(e)
	case events.PortsEvent:
		h.addEvent("ports_found",
			attribute.IntSlice("ports", e.Ports),
			attribute.String("report", e.Report))
	case events.FindingsEvent:
		h.addEvent("services_classified",
			attribute.Int("findings", len(e.Findings)),
			attribute.Int("web", e.WebCount()),
			attribute.Bool("partial", e.Partial))
	case events.LaunchEvent:
		h.handleLaunch(e)
	case events.WarningEvent:
		h.addEvent("warning",
			attribute.String("stage", e.Stage),
			attribute.String("message", e.Message))
	case events.CompleteEvent:
		h.handleComplete(e)
	}
	return nil
}

// handleStart opens the root span.
func (h *OTelHook) handleStart(ctx context.Context, e events.StartEvent) {
	h.endStageAt(time.Now())
	if h.rootSpan != nil {
		h.rootSpan.End()
	}
	h.rootCtx, h.rootSpan = h.tracer.Start(ctx, defaults.ToolName+".run",
		trace.WithTimestamp(e.Timestamp()),
		trace.WithAttributes(
			attribute.String("run_id", e.RunID()),
			attribute.String("target", e.Target),
			attribute.String("mode", e.Mode),
			attribute.String("output_dir", e.OutputDir),
		),
	)
}

// handleStage closes the span of the stage left and opens one for the
// stage entered, unless that stage is terminal.
func (h *OTelHook) handleStage(e events.StageEvent) {
	if h.rootSpan == nil {
		return
	}
	h.endStageAt(e.Timestamp())
	if e.To == "attached" || e.To == "failed" {
		return
	}
	_, h.stageSpan = h.tracer.Start(h.rootCtx, e.To,
		trace.WithTimestamp(e.Timestamp()),
		trace.WithAttributes(attribute.String("stage", e.To)),
	)
}

func (h *OTelHook) handleLaunch(e events.LaunchEvent) {
	attrs := []attribute.KeyValue{
		attribute.String("role", e.Role),
		attribute.String("tool", e.Tool),
		attribute.Int("port", e.Port),
		attribute.String("url", e.URL),
	}
	if e.Failed() {
		attrs = append(attrs, attribute.String("error", e.Error))
		h.addEvent("launch_failed", attrs...)
		return
	}
	h.addEvent("launched", attrs...)
}

// handleComplete sets the final status and ends the trace.
func (h *OTelHook) handleComplete(e events.CompleteEvent) {
	if h.rootSpan == nil {
		return
	}
	h.endStageAt(e.Timestamp())

	h.rootSpan.SetAttributes(
		attribute.String("state", e.State),
		attribute.Int("exit_code", e.ExitCode),
		attribute.Int("launched", e.Launched),
		attribute.Int("failed_launches", e.Failed),
	)
	if e.Success {
		h.rootSpan.SetStatus(codes.Ok, "")
	} else {
		h.rootSpan.SetStatus(codes.Error, e.ExitReason)
	}
	h.rootSpan.End(trace.WithTimestamp(e.Timestamp()))
	h.rootSpan = nil
	h.rootCtx = nil
}

// addEvent records on the current stage span, or the root if between stages.
func (h *OTelHook) addEvent(name string, attrs ...attribute.KeyValue) {
	span := h.stageSpan
	if span == nil {
		span = h.rootSpan
	}
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (h *OTelHook) endStageAt(ts time.Time) {
	if h.stageSpan != nil {
		h.stageSpan.End(trace.WithTimestamp(ts))
		h.stageSpan = nil
	}
}

// EventTypes returns nil: every event contributes to the trace.
func (h *OTelHook) EventTypes() []events.EventType { return nil }

// Shutdown ends open spans and flushes the exporter.
func (h *OTelHook) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	h.endStageAt(time.Now())
	if h.rootSpan != nil {
		h.rootSpan.End()
		h.rootSpan = nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.ShutdownTimeout)
	defer cancel()
	if err := h.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel: shutdown tracer provider: %w", err)
	}
	return nil
}

// Endpoint returns the OTLP endpoint being used.
func (h *OTelHook) Endpoint() string {
	return h.opts.Endpoint
}
