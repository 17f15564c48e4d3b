package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/recondrone/drone/pkg/defaults"
)

// Version information - these can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/recondrone/drone/pkg/ui.Commit=abc123"
var (
	Version   = defaults.Version
	BuildDate = "unknown"
	Commit    = "dev"
)

// Global UI state
var (
	silentMode  bool
	noColorMode bool
	output      io.Writer = os.Stderr
	uiMu        sync.RWMutex
)

// SetSilent enables or disables silent mode (suppresses most output)
func SetSilent(silent bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	silentMode = silent
}

// IsSilent returns whether silent mode is enabled
func IsSilent() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return silentMode
}

// SetNoColor disables colored output
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsNoColor returns whether color is disabled
func IsNoColor() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return noColorMode
}

// SetOutput redirects everything the package prints. Nil restores stderr.
func SetOutput(w io.Writer) {
	uiMu.Lock()
	defer uiMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

func out() io.Writer {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return output
}

const bannerArt = `
     __
 ___/ /______  ___  ___
/ _  / __/ _ \/ _ \/ -_)
\_,_/_/  \___/_//_/\__/
`

// PrintBanner prints the application banner with version info
func PrintBanner() {
	if IsSilent() {
		return
	}
	w := out()
	for _, line := range strings.Split(bannerArt, "\n") {
		if line != "" {
			fmt.Fprintln(w, BannerStyle.Render(line))
		}
	}
	fmt.Fprintf(w, "         v%s\n\n", VersionStyle.Render(Version))
}

// printOption prints a single configuration line, ffuf-style.
func printOption(w io.Writer, key, value string) {
	fmt.Fprintf(w, " :: %-16s : %s\n", key, ConfigValueStyle.Render(value))
}

// configOrder is the order run options are shown in; unknown keys follow.
var configOrder = []string{
	"Target",
	"Mode",
	"Session",
	"Window",
	"Output",
	"Max Web Ports",
	"Launch Rate",
	"Wordlist",
	"Events",
	"Summary",
}

// PrintConfigBanner prints the run options between two dividers.
// Empty values are skipped.
func PrintConfigBanner(config map[string]string) {
	if IsSilent() {
		return
	}
	w := out()
	fmt.Fprintln(w, DividerStyle.Render(strings.Repeat("_", 48)))
	fmt.Fprintln(w)

	seen := make(map[string]bool, len(config))
	for _, key := range configOrder {
		seen[key] = true
		if v := config[key]; v != "" {
			printOption(w, key, v)
		}
	}
	var rest []string
	for key := range config {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if v := config[key]; v != "" {
			printOption(w, key, v)
		}
	}

	fmt.Fprintln(w, DividerStyle.Render(strings.Repeat("_", 48)))
	fmt.Fprintln(w)
}

// PrintDivider prints a horizontal rule
func PrintDivider() {
	if IsSilent() {
		return
	}
	fmt.Fprintln(out(), DividerStyle.Render(strings.Repeat(Icon("─", "-"), 60)))
}

// PrintSection prints a section header
func PrintSection(title string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(out(), SectionStyle.Render(Icon("▸ ", "> ")+title))
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(out(), PassStyle.Render("  [+] "+SanitizeString(message)))
}

// PrintError prints an error message. Silent mode does not hide errors.
func PrintError(message string) {
	fmt.Fprintln(out(), FailStyle.Render("  [X] "+SanitizeString(message)))
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(out(), WarnStyle.Render("  [!] "+SanitizeString(message)))
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintf(out(), "  %s %s\n", AccentStyle.Render("*"), SanitizeString(message))
}

// PrintHelp prints contextual help
func PrintHelp(text string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(out(), HelpStyle.Render("  [i] "+text))
}
