// Package config resolves drone's settings from built-in defaults, an
// optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/duration"
	"github.com/recondrone/drone/pkg/target"
	"github.com/recondrone/drone/pkg/tools"
)

// Config holds all run configuration.
type Config struct {
	// Target settings
	Target     string // IP address or hostname
	ConfigFile string // YAML file with overrides

	// Pipeline settings
	OutputDir   string  // Where reports and exit-status files go
	MaxWebPorts int     // Web ports enumerated per run (default: 4)
	LaunchRate  float64 // Enumeration launches per second (default: 2)
	Wordlist    string  // Optional wordlist for the content brute-forcer
	SkipDeps    bool    // Do not check tools before running

	// Timeouts
	PortTimeout        time.Duration // Fast scan bound (default: 45m)
	ServiceTimeout     time.Duration // Service scan bound (default: 60m)
	EnumerationTimeout time.Duration // Headless fan-out bound (default: 2h)

	// Session settings
	Session    string // tmux session name (default: Drone)
	Headless   bool   // Run tools as child processes instead of panes
	NoAttach   bool   // Leave the session detached at the end
	TmuxBinary string // tmux executable
	TmuxSocket string // tmux -L socket name (empty = default server)

	// Output settings
	EventsFile   string // JSONL event log
	SummaryFile  string // Markdown run summary
	MetricsPort  int    // Prometheus listener port (0 = disabled)
	OTelEndpoint string // OTLP gRPC endpoint (empty = disabled)
	NoColor      bool   // Disable colored output
	Verbose      bool   // Debug logging
	LogFile      string // Log destination (empty = stderr, or <output>/drone.log in session mode)

	// Tools are the resolved command templates.
	Tools tools.Set
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir:          ".",
		MaxWebPorts:        defaults.MaxWebPorts,
		LaunchRate:         defaults.LaunchRate,
		PortTimeout:        duration.PortScan,
		ServiceTimeout:     duration.ServiceScan,
		EnumerationTimeout: duration.Enumeration,
		Session:            defaults.SessionName,
		TmuxBinary:         defaults.BinaryTmux,
		Tools:              tools.Builtin(),
	}
}

// ParseArgs resolves the configuration for args (without the program
// name). Flags override the YAML file named by -config, which overrides
// the defaults. The returned error wraps flag.ErrHelp when -h was given.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	// First pass only discovers -config so the file can be layered
	// underneath the flags.
	first := Default()
	fs := newFlagSet(first, io.Discard)
	if err := fs.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := Default()
	if first.ConfigFile != "" {
		if err := cfg.LoadFile(first.ConfigFile); err != nil {
			return nil, err
		}
	}

	fs = newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Target == "" && fs.NArg() > 0 {
		cfg.Target = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrInvalidConfig, fs.Args()[1:])
	}
	return cfg, nil
}

// newFlagSet binds every flag to cfg, using cfg's current values as the
// defaults so unset flags leave them untouched.
func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(defaults.ToolName, flag.ContinueOnError)
	fs.SetOutput(output)

	// === TARGET ===
	fs.StringVar(&cfg.Target, "target", cfg.Target, "Target IP address or hostname")
	fs.StringVar(&cfg.Target, "t", cfg.Target, "Target (alias)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML configuration file")

	// === PIPELINE ===
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for scan reports")
	fs.StringVar(&cfg.OutputDir, "o", cfg.OutputDir, "Output directory (alias)")
	fs.IntVar(&cfg.MaxWebPorts, "max-web-ports", cfg.MaxWebPorts, "Maximum web ports to enumerate")
	fs.Float64Var(&cfg.LaunchRate, "launch-rate", cfg.LaunchRate, "Enumeration tool launches per second")
	fs.StringVar(&cfg.Wordlist, "wordlist", cfg.Wordlist, "Wordlist for the directory brute-forcer")
	fs.StringVar(&cfg.Wordlist, "w", cfg.Wordlist, "Wordlist (alias)")
	fs.BoolVar(&cfg.SkipDeps, "skip-deps", cfg.SkipDeps, "Skip the tool dependency check")

	// === TIMEOUTS ===
	fs.DurationVar(&cfg.PortTimeout, "port-timeout", cfg.PortTimeout, "Fast port scan timeout")
	fs.DurationVar(&cfg.ServiceTimeout, "service-timeout", cfg.ServiceTimeout, "Service scan timeout")
	fs.DurationVar(&cfg.EnumerationTimeout, "enum-timeout", cfg.EnumerationTimeout, "Headless enumeration timeout")

	// === SESSION ===
	fs.StringVar(&cfg.Session, "session", cfg.Session, "tmux session name")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run tools as child processes, no tmux")
	fs.BoolVar(&cfg.NoAttach, "no-attach", cfg.NoAttach, "Do not attach to the session at the end")
	fs.StringVar(&cfg.TmuxSocket, "tmux-socket", cfg.TmuxSocket, "tmux server socket name (tmux -L)")

	// === OUTPUT ===
	fs.StringVar(&cfg.EventsFile, "events", cfg.EventsFile, "Write run events as JSON lines to file")
	fs.StringVar(&cfg.SummaryFile, "summary", cfg.SummaryFile, "Write a Markdown run summary to file")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Serve Prometheus metrics on this port (0 = off)")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "Export traces to this OTLP gRPC endpoint")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output")
	fs.BoolVar(&cfg.NoColor, "nc", cfg.NoColor, "No color (alias)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Debug logging")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose (alias)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to file")

	return fs
}

// Usage prints the flag help to w.
func Usage(w io.Writer) {
	fs := newFlagSet(Default(), w)
	fs.PrintDefaults()
}

// fileConfig is the YAML layout. Pointer fields distinguish "absent" from
// zero so a file only overrides what it mentions.
type fileConfig struct {
	OutputDir   *string  `yaml:"output_dir"`
	MaxWebPorts *int     `yaml:"max_web_ports"`
	LaunchRate  *float64 `yaml:"launch_rate"`
	Wordlist    *string  `yaml:"wordlist"`
	SkipDeps    *bool    `yaml:"skip_deps"`
	Headless    *bool    `yaml:"headless"`
	NoAttach    *bool    `yaml:"no_attach"`

	Timeouts struct {
		PortScan    *time.Duration `yaml:"port_scan"`
		ServiceScan *time.Duration `yaml:"service_scan"`
		Enumeration *time.Duration `yaml:"enumeration"`
	} `yaml:"timeouts"`

	Tmux struct {
		Session *string `yaml:"session"`
		Binary  *string `yaml:"binary"`
		Socket  *string `yaml:"socket"`
	} `yaml:"tmux"`

	Output struct {
		Events       *string `yaml:"events"`
		Summary      *string `yaml:"summary"`
		MetricsPort  *int    `yaml:"metrics_port"`
		OTelEndpoint *string `yaml:"otel_endpoint"`
		LogFile      *string `yaml:"log_file"`
	} `yaml:"output"`

	Tools tools.Set `yaml:"tools"`
}

// LoadFile layers the YAML file at path over cfg.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	defer f.Close()
	if err := c.Load(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// Load layers YAML from r over cfg. Unknown keys are rejected.
func (c *Config) Load(r io.Reader) error {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for role := range fc.Tools {
		if !knownRole(role) {
			return fmt.Errorf("%w: unknown tool role %q", ErrInvalidConfig, role)
		}
	}

	set(&c.OutputDir, fc.OutputDir)
	set(&c.MaxWebPorts, fc.MaxWebPorts)
	set(&c.LaunchRate, fc.LaunchRate)
	set(&c.Wordlist, fc.Wordlist)
	set(&c.SkipDeps, fc.SkipDeps)
	set(&c.Headless, fc.Headless)
	set(&c.NoAttach, fc.NoAttach)
	set(&c.PortTimeout, fc.Timeouts.PortScan)
	set(&c.ServiceTimeout, fc.Timeouts.ServiceScan)
	set(&c.EnumerationTimeout, fc.Timeouts.Enumeration)
	set(&c.Session, fc.Tmux.Session)
	set(&c.TmuxBinary, fc.Tmux.Binary)
	set(&c.TmuxSocket, fc.Tmux.Socket)
	set(&c.EventsFile, fc.Output.Events)
	set(&c.SummaryFile, fc.Output.Summary)
	set(&c.MetricsPort, fc.Output.MetricsPort)
	set(&c.OTelEndpoint, fc.Output.OTelEndpoint)
	set(&c.LogFile, fc.Output.LogFile)
	c.Tools = c.Tools.Merge(fc.Tools)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func knownRole(r tools.Role) bool {
	for _, k := range tools.Roles {
		if k == r {
			return true
		}
	}
	return false
}

// Validate checks the configuration for values the run cannot use.
func (c *Config) Validate() error {
	switch {
	case c.OutputDir == "":
		return fmt.Errorf("%w: output directory", ErrMissingRequired)
	case c.MaxWebPorts < 1:
		return fmt.Errorf("%w: max-web-ports must be at least 1, got %d", ErrInvalidConfig, c.MaxWebPorts)
	case c.LaunchRate <= 0:
		return fmt.Errorf("%w: launch-rate must be positive, got %v", ErrInvalidConfig, c.LaunchRate)
	case c.PortTimeout <= 0 || c.ServiceTimeout <= 0 || c.EnumerationTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.MetricsPort < 0 || c.MetricsPort > defaults.MaxPort:
		return fmt.Errorf("%w: metrics-port %d out of range", ErrInvalidConfig, c.MetricsPort)
	}

	if !c.Headless {
		if c.Session == "" {
			return fmt.Errorf("%w: session name", ErrMissingRequired)
		}
		// tmux reserves these in target syntax.
		if strings.ContainsAny(c.Session, ":.") {
			return fmt.Errorf("%w: session name %q must not contain ':' or '.'", ErrInvalidConfig, c.Session)
		}
	}

	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RequireTarget reports a missing target as an invalid one.
func (c *Config) RequireTarget() error {
	if strings.TrimSpace(c.Target) == "" {
		return &target.InvalidTargetError{Input: c.Target, Reason: "empty target (use -t)"}
	}
	return nil
}

// Mode returns "headless" or "session".
func (c *Config) Mode() string {
	if c.Headless {
		return "headless"
	}
	return "session"
}
