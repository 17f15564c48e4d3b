// Command drone runs the recon pipeline against one target: a fast full
// port scan, a service scan of the open ports, then web enumeration of the
// HTTP services found, each stage in its own tmux pane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/recondrone/drone/pkg/config"
	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/deps"
	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/output/dispatcher"
	"github.com/recondrone/drone/pkg/output/hooks"
	"github.com/recondrone/drone/pkg/output/writers"
	"github.com/recondrone/drone/pkg/pipeline"
	"github.com/recondrone/drone/pkg/procexec"
	"github.com/recondrone/drone/pkg/tmux"
	"github.com/recondrone/drone/pkg/ui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches subcommands and returns the process exit status.
func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "version", "-version", "--version":
			printVersion(os.Stdout)
			return defaults.ExitSuccess
		case "tools":
			return runTools(args[1:], os.Stdout)
		case "help", "-h", "-help", "--help":
			printUsage(os.Stdout)
			return defaults.ExitSuccess
		case "run":
			args = args[1:]
		}
	}
	return runRecon(args)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s", defaults.ToolName, ui.Version)
	if ui.Commit != "" {
		fmt.Fprintf(w, " (%s)", ui.Commit)
	}
	if ui.BuildDate != "" {
		fmt.Fprintf(w, " built %s", ui.BuildDate)
	}
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [run] [flags] <target>\n", defaults.ToolName)
	fmt.Fprintf(w, "       %s tools [-config file] [-json]\n", defaults.ToolName)
	fmt.Fprintf(w, "       %s version\n\n", defaults.ToolName)
	fmt.Fprintln(w, "Flags:")
	config.Usage(w)
}

// runRecon is the default command: one pipeline run against one target.
func runRecon(args []string) int {
	cfg, err := config.ParseArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return defaults.ExitSuccess
		}
		return reportError(err)
	}
	ui.SetNoColor(cfg.NoColor)

	if err := cfg.RequireTarget(); err != nil {
		return reportError(err)
	}
	if err := cfg.Validate(); err != nil {
		return reportError(err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return reportError(err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp, err := newDispatcher(cfg, logger)
	if err != nil {
		return reportError(err)
	}

	p := &pipeline.Pipeline{
		Options:    options(cfg),
		Mode:       newMode(cfg, logger),
		Checker:    &deps.Checker{Logger: logger},
		Dispatcher: disp,
		Logger:     logger,
	}

	ui.PrintBanner()
	ui.PrintConfigBanner(bannerOptions(cfg))

	res, runErr := p.Run(ctx, cfg.Target)

	// The run context may already be cancelled; output still gets a
	// bounded window to flush.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), duration.OutputClose)
	defer cancel()
	if err := disp.Close(closeCtx); err != nil {
		logger.Warn("closing output failed", "error", err)
	}

	ui.PrintSummary(res)
	if runErr != nil {
		return reportError(runErr)
	}
	return defaults.ExitSuccess
}

func options(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Tools:              cfg.Tools,
		OutputDir:          cfg.OutputDir,
		Wordlist:           cfg.Wordlist,
		MaxWebPorts:        cfg.MaxWebPorts,
		LaunchRate:         cfg.LaunchRate,
		PortTimeout:        cfg.PortTimeout,
		ServiceTimeout:     cfg.ServiceTimeout,
		EnumerationTimeout: cfg.EnumerationTimeout,
		SkipDeps:           cfg.SkipDeps,
		NoAttach:           cfg.NoAttach,
	}
}

func newMode(cfg *config.Config, logger *slog.Logger) pipeline.Mode {
	if cfg.Headless {
		launcher := procexec.New(logger)
		if cfg.Verbose {
			launcher.Output = os.Stderr
		}
		return pipeline.HeadlessMode{Launcher: launcher}
	}
	return pipeline.SessionMode{
		Commander:  tmux.Exec{Binary: cfg.TmuxBinary, Socket: cfg.TmuxSocket},
		Session:    cfg.Session,
		OutputDir:  cfg.OutputDir,
		IsTerminal: ui.StdinIsTerminal,
	}
}

// newLogger builds the run logger. Session mode logs to a file by default
// so records do not scribble over the attached tmux client.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	path := cfg.LogFile
	if path == "" && !cfg.Headless {
		path = filepath.Join(cfg.OutputDir, defaults.LogFileName)
	}
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: log file: %w", config.ErrInvalidConfig, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: log file: %w", config.ErrInvalidConfig, err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { _ = f.Close() }, nil
}

// newDispatcher registers the configured writers and hooks. On error any
// output already opened is closed again.
func newDispatcher(cfg *config.Config, logger *slog.Logger) (_ *dispatcher.Dispatcher, err error) {
	disp := dispatcher.New(logger)
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), duration.OutputClose)
			defer cancel()
			_ = disp.Close(ctx)
		}
	}()

	disp.RegisterHook(hooks.NewLoggerHook(logger))

	if cfg.EventsFile != "" {
		f, err := createFile(cfg.EventsFile)
		if err != nil {
			return nil, err
		}
		disp.RegisterWriter(writers.NewJSONLWriter(f, writers.JSONLOptions{}))
	}

	if cfg.SummaryFile != "" {
		f, err := createFile(cfg.SummaryFile)
		if err != nil {
			return nil, err
		}
		mw, err := writers.NewMarkdownWriter(f, writers.MarkdownConfig{})
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		disp.RegisterWriter(mw)
	}

	if cfg.MetricsPort > 0 {
		ph, err := hooks.NewPrometheusHook(hooks.PrometheusOptions{Port: cfg.MetricsPort, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("%w: metrics: %w", config.ErrInvalidConfig, err)
		}
		disp.RegisterHook(ph)
		logger.Info("serving metrics", "addr", ph.MetricsAddr())
	}

	if cfg.OTelEndpoint != "" {
		oh, err := hooks.NewOTelHook(hooks.OTelOptions{Endpoint: cfg.OTelEndpoint, Insecure: true})
		if err != nil {
			return nil, fmt.Errorf("%w: tracing: %w", config.ErrInvalidConfig, err)
		}
		disp.RegisterHook(oh)
	}

	return disp, nil
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return f, nil
}

func bannerOptions(cfg *config.Config) map[string]string {
	opts := map[string]string{
		"Target":        cfg.Target,
		"Mode":          cfg.Mode(),
		"Output":        cfg.OutputDir,
		"Max Web Ports": strconv.Itoa(cfg.MaxWebPorts),
		"Launch Rate":   strconv.FormatFloat(cfg.LaunchRate, 'g', -1, 64) + "/s",
		"Wordlist":      cfg.Wordlist,
		"Events":        cfg.EventsFile,
		"Summary":       cfg.SummaryFile,
	}
	if !cfg.Headless {
		opts["Session"] = cfg.Session
	}
	if cfg.MetricsPort > 0 {
		opts["Metrics"] = ":" + strconv.Itoa(cfg.MetricsPort)
	}
	if cfg.OTelEndpoint != "" {
		opts["Tracing"] = cfg.OTelEndpoint
	}
	if cfg.Headless {
		opts["Enum Timeout"] = cfg.EnumerationTimeout.Round(time.Second).String()
	}
	return opts
}
