// Package tools describes the external programs drone drives and turns
// their argument templates into concrete command lines.
//
// Templates use {{name}} placeholders (the {{.name}} form is accepted too).
// Expansion is plain string substitution, never text/template, so values
// coming from scan output cannot inject template actions.
package tools

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/recondrone/drone/pkg/defaults"
)

// Role identifies what a tool does in the pipeline.
type Role string

const (
	RolePortScan    Role = "port_scan"
	RoleServiceScan Role = "service_scan"
	RoleBruteForce  Role = "brute_force"
	RoleFingerprint Role = "fingerprint"
	RoleVulnScan    Role = "vuln_scan"
)

// Roles lists every role in pipeline order.
var Roles = []Role{RolePortScan, RoleServiceScan, RoleBruteForce, RoleFingerprint, RoleVulnScan}

// EnumerationRoles are the independent tools launched per web port.
var EnumerationRoles = []Role{RoleBruteForce, RoleFingerprint, RoleVulnScan}

// Label is the human-facing stage name used for panes and logs.
func (r Role) Label() string {
	switch r {
	case RolePortScan:
		return "fast scan"
	case RoleServiceScan:
		return "detailed scan"
	case RoleBruteForce:
		return "directory brute-force"
	case RoleFingerprint:
		return "fingerprint"
	case RoleVulnScan:
		return "vulnerability scan"
	default:
		return string(r)
	}
}

// Tool is the fixed invocation template of one external program.
type Tool struct {
	// Name of the tool, used in report names and events
	Name string `yaml:"name" json:"name"`

	// Binary to execute (looked up in PATH)
	Binary string `yaml:"binary" json:"binary"`

	// Args template
	Args []string `yaml:"args" json:"args"`

	// VersionArgs is a harmless invocation used by the dependency check
	VersionArgs []string `yaml:"version_args,omitempty" json:"version_args,omitempty"`

	// Report is the file name template, relative to the output directory
	Report string `yaml:"report" json:"report"`
}

// Set maps each role to its tool.
type Set map[Role]Tool

// Command is a fully expanded invocation.
type Command struct {
	Role   Role     `json:"role"`
	Title  string   `json:"title"`
	Tool   string   `json:"tool"`
	Binary string   `json:"binary"`
	Args   []string `json:"args"`
	Report string   `json:"report"`
}

// Argv returns the binary followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Binary}, c.Args...)
}

// String renders the command as a single shell-safe line.
func (c Command) String() string {
	return ShellJoin(c.Argv())
}

// Vars holds the values available to templates.
type Vars map[string]string

// Template variable names.
const (
	VarTarget     = "target"      // target as passed to scanners
	VarTargetFile = "target_file" // filename-safe target
	VarFamily     = "family"      // "-6" for IPv6 targets, empty otherwise
	VarPorts      = "ports"       // comma-separated open ports
	VarPort       = "port"        // single web port
	VarURL        = "url"         // scheme://host:port of a web port
	VarReport     = "report"      // expanded report path
	VarWordlist   = "wordlist"    // optional brute-force wordlist
)

var placeholder = regexp.MustCompile(`\{\{\.?([a-z_]+)\}\}`)

// Builtin returns the default tool set.
// Argument choices follow the usual manual recon: a fast full-range scan
// with no host discovery, then default scripts and version detection on
// the open ports only.
func Builtin() Set {
	return Set{
		RolePortScan: {
			Name:        "nmap",
			Binary:      defaults.BinaryNmap,
			Args:        []string{"{{family}}", "-p-", "-Pn", "-T4", "--min-rate", "1000", "-oN", "{{report}}", "{{target}}"},
			VersionArgs: []string{"--version"},
			Report:      "nmap_{{target_file}}_allports.txt",
		},
		RoleServiceScan: {
			Name:        "nmap",
			Binary:      defaults.BinaryNmap,
			Args:        []string{"{{family}}", "-sC", "-sV", "-Pn", "-T4", "-p", "{{ports}}", "-oN", "{{report}}", "{{target}}"},
			VersionArgs: []string{"--version"},
			Report:      "nmap_{{target_file}}.txt",
		},
		RoleBruteForce: {
			Name:        "feroxbuster",
			Binary:      defaults.BinaryFeroxbuster,
			Args:        []string{"-u", "{{url}}", "--no-state", "--wordlist={{wordlist}}", "-o", "{{report}}"},
			VersionArgs: []string{"--version"},
			Report:      "feroxbuster_{{target_file}}_{{port}}.txt",
		},
		RoleFingerprint: {
			Name:        "whatweb",
			Binary:      defaults.BinaryWhatweb,
			Args:        []string{"-a", "3", "--log-brief={{report}}", "{{url}}"},
			VersionArgs: []string{"--version"},
			Report:      "whatweb_{{target_file}}_{{port}}.txt",
		},
		RoleVulnScan: {
			Name:        "nikto",
			Binary:      defaults.BinaryNikto,
			Args:        []string{"-h", "{{url}}", "-output", "{{report}}"},
			VersionArgs: []string{"-Version"},
			Report:      "nikto_{{target_file}}_{{port}}.txt",
		},
	}
}

// Merge returns a copy of s with the non-empty fields of override applied.
func (s Set) Merge(override Set) Set {
	out := make(Set, len(s))
	for r, t := range s {
		out[r] = t
	}
	for r, o := range override {
		t := out[r]
		if o.Name != "" {
			t.Name = o.Name
		}
		if o.Binary != "" {
			t.Binary = o.Binary
		}
		if len(o.Args) > 0 {
			t.Args = append([]string(nil), o.Args...)
		}
		if len(o.VersionArgs) > 0 {
			t.VersionArgs = append([]string(nil), o.VersionArgs...)
		}
		if o.Report != "" {
			t.Report = o.Report
		}
		out[r] = t
	}
	return out
}

// Validate checks that every role has a usable tool.
func (s Set) Validate() error {
	for _, r := range Roles {
		t, ok := s[r]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRole, r)
		}
		if t.Binary == "" {
			return fmt.Errorf("tool %s: %w", r, ErrNoBinary)
		}
		if t.Report == "" {
			return fmt.Errorf("tool %s: %w", r, ErrNoReport)
		}
		if !strings.Contains(strings.Join(t.Args, " "), "{{report}}") &&
			!strings.Contains(strings.Join(t.Args, " "), "{{.report}}") {
			return fmt.Errorf("tool %s: %w", r, ErrReportNotPassed)
		}
	}
	return nil
}

// Build expands the tool for role into a Command. The report path is
// resolved against dir and made available to the arguments as {{report}}.
func (s Set) Build(role Role, dir string, vars Vars) (Command, error) {
	t, ok := s[role]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	name, err := expand(t.Report, vars)
	if err != nil {
		return Command{}, fmt.Errorf("tool %s report: %w", role, err)
	}
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(filepath.Clean(name), "..") {
		return Command{}, fmt.Errorf("tool %s: %w: %q", role, ErrBadReportName, name)
	}

	all := make(Vars, len(vars)+1)
	for k, v := range vars {
		all[k] = v
	}
	all[VarReport] = filepath.Join(dir, name)

	args := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		if referencesEmpty(a, all) {
			continue
		}
		v, err := expand(a, all)
		if err != nil {
			return Command{}, fmt.Errorf("tool %s: %w", role, err)
		}
		args = append(args, v)
	}

	return Command{
		Role:   role,
		Title:  role.Label(),
		Tool:   t.Name,
		Binary: t.Binary,
		Args:   args,
		Report: all[VarReport],
	}, nil
}

// expand substitutes every placeholder in input. Unknown names are errors
// so a typo in a config file fails the run instead of reaching a scanner.
func expand(input string, vars Vars) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(input, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: {{%s}}", ErrUnknownVariable, missing)
	}
	return out, nil
}

// referencesEmpty reports whether arg uses a defined variable whose value
// is empty. Such arguments are dropped, which lets optional flags like
// "{{family}}" or "--wordlist={{wordlist}}" disappear cleanly.
func referencesEmpty(arg string, vars Vars) bool {
	for _, m := range placeholder.FindAllStringSubmatch(arg, -1) {
		if v, ok := vars[m[1]]; ok && v == "" {
			return true
		}
	}
	return false
}
