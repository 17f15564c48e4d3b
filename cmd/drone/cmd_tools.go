package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/recondrone/drone/pkg/config"
	"github.com/recondrone/drone/pkg/defaults"
	"github.com/recondrone/drone/pkg/jsonutil"
	"github.com/recondrone/drone/pkg/tools"
)

// toolEntry is one role of the resolved tool set, in pipeline order.
type toolEntry struct {
	Role  tools.Role `json:"role"`
	Label string     `json:"label"`
	tools.Tool
}

// runTools prints the command templates a run would use, after the
// config file has been layered over the built-in set.
func runTools(args []string, w io.Writer) int {
	fs := flag.NewFlagSet(defaults.ToolName+" tools", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configFile := fs.String("config", "", "YAML configuration file")
	asJSON := fs.Bool("json", false, "Print the tool set as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return defaults.ExitSuccess
		}
		return reportError(fmt.Errorf("%w: %w", config.ErrInvalidConfig, err))
	}

	cfg := config.Default()
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return reportError(err)
		}
	}
	if err := cfg.Tools.Validate(); err != nil {
		return reportError(fmt.Errorf("%w: %w", config.ErrInvalidConfig, err))
	}

	entries := make([]toolEntry, 0, len(tools.Roles))
	for _, role := range tools.Roles {
		entries = append(entries, toolEntry{Role: role, Label: role.Label(), Tool: cfg.Tools[role]})
	}

	if *asJSON {
		enc := jsonutil.NewStreamEncoder(w)
		enc.SetIndent("  ")
		if err := enc.Encode(entries); err != nil {
			return reportError(err)
		}
		return defaults.ExitSuccess
	}

	for _, e := range entries {
		fmt.Fprintf(w, "%s (%s)\n", e.Label, e.Role)
		fmt.Fprintf(w, "  %s %s\n", e.Binary, strings.Join(e.Args, " "))
		fmt.Fprintf(w, "  report: %s\n", e.Report)
	}
	return defaults.ExitSuccess
}
