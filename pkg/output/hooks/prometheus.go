package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/events"
)

// Compile-time interface checks.
var (
	_ dispatcher.Hook       = (*PrometheusHook)(nil)
	_ dispatcher.Shutdowner = (*PrometheusHook)(nil)
)

// PrometheusHook exposes run metrics for Prometheus scraping.
// It serves them over HTTP at the configured path until Shutdown.
type PrometheusHook struct {
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry
	opts     PrometheusOptions
	log      *slog.Logger

	// Counters
	runsTotal     *prometheus.CounterVec
	launchesTotal *prometheus.CounterVec
	warningsTotal *prometheus.CounterVec

	// Gauges
	openPorts          *prometheus.GaugeVec
	webServices        *prometheus.GaugeVec
	runDurationSeconds *prometheus.GaugeVec

	// Histograms
	stageDurationSeconds *prometheus.HistogramVec

	mu     sync.Mutex
	closed bool
}

// PrometheusOptions configures the Prometheus hook behavior.
type PrometheusOptions struct {
	// Port for the metrics server. Zero picks a free port.
	Port int

	// Path for the metrics endpoint (default: defaults.MetricsPath).
	Path string

	// ReadTimeout for the HTTP server (default: duration.MetricsShutdown).
	ReadTimeout time.Duration

	// WriteTimeout for the HTTP server (default: duration.MetricsWrite).
	WriteTimeout time.Duration

	// Logger for server errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewPrometheusHook registers the run metrics and starts serving them.
// A port that cannot be bound is reported here, not later.
func NewPrometheusHook(opts PrometheusOptions) (*PrometheusHook, error) {
	if opts.Path == "" {
		opts.Path = defaults.MetricsPath
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = duration.MetricsShutdown
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = duration.MetricsWrite
	}

	hook := &PrometheusHook{
		registry: prometheus.NewRegistry(),
		opts:     opts,
		log:      orDefault(opts.Logger),
	}

	if err := hook.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := hook.startServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return hook, nil
}

// initMetrics creates and registers all Prometheus metrics.
func (h *PrometheusHook) initMetrics() error {
	h.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drone_runs_total",
			Help: "Runs finished, by final state",
		},
		[]string{"state"},
	)

	h.launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drone_launches_total",
			Help: "Enumeration tools launched against web ports",
		},
		[]string{"role", "tool", "result"},
	)

	h.warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drone_warnings_total",
			Help: "Non-fatal problems a run continued past",
		},
		[]string{"stage"},
	)

	h.openPorts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drone_open_ports",
			Help: "Open ports found by the port scan",
		},
		[]string{"target"},
	)

	h.webServices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drone_web_services",
			Help: "Open ports classified as web services",
		},
		[]string{"target"},
	)

	h.runDurationSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drone_run_duration_seconds",
			Help: "Wall time of the last run",
		},
		[]string{"target"},
	)

	h.stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drone_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"stage"},
	)

	collectors := []prometheus.Collector{
		h.runsTotal,
		h.launchesTotal,
		h.warningsTotal,
		h.openPorts,
		h.webServices,
		h.runDurationSeconds,
		h.stageDurationSeconds,
	}
	for _, c := range collectors {
		if err := h.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// startServer binds the listener and serves metrics in the background.
func (h *PrometheusHook) startServer() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(h.opts.Port)))
	if err != nil {
		return err
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.Handle(h.opts.Path, promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  h.opts.ReadTimeout,
		WriteTimeout: h.opts.WriteTimeout,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// OnEvent updates the metrics the event carries.
func (h *PrometheusHook) OnEvent(_ context.Context, event events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	switch e := event.(type) {
	case events.StageEvent:
		if e.Elapsed > 0 {
			h.stageDurationSeconds.WithLabelValues(e.From).Observe(e.Elapsed.Seconds())
		}
	case events.PortsEvent:
		h.openPorts.WithLabelValues(e.Target).Set(float64(len(e.Ports)))
	case events.FindingsEvent:
		h.webServices.WithLabelValues(e.Target).Set(float64(e.WebCount()))
	case events.LaunchEvent:
		result := "ok"
		if e.Failed() {
			result = "failed"
		}
		h.launchesTotal.WithLabelValues(e.Role, e.Tool, result).Inc()
	case events.WarningEvent:
		h.warningsTotal.WithLabelValues(e.Stage).Inc()
	case events.CompleteEvent:
		h.runsTotal.WithLabelValues(e.State).Inc()
		h.runDurationSeconds.WithLabelValues(e.Target).Set(e.Duration.Seconds())
	}
	return nil
}

// EventTypes returns the event types this hook handles.
func (h *PrometheusHook) EventTypes() []events.EventType {
	return []events.EventType{
		events.EventTypeStage,
		events.EventTypePorts,
		events.EventTypeFindings,
		events.EventTypeLaunch,
		events.EventTypeWarning,
		events.EventTypeComplete,
	}
}

// Registry returns the registry the metrics live in.
func (h *PrometheusHook) Registry() *prometheus.Registry {
	return h.registry
}

// Shutdown stops the metrics server. Later events are ignored.
func (h *PrometheusHook) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, duration.MetricsShutdown)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// MetricsAddr returns the URL metrics are served at.
func (h *PrometheusHook) MetricsAddr() string {
	port := h.opts.Port
	if h.listener != nil {
		port = h.listener.Addr().(*net.TCPAddr).Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, h.opts.Path)
}
