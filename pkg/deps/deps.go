// Package deps verifies that the external programs drone drives are
// installed and runnable before any scan starts.
package deps

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/recondrone/drone/pkg/duration"
)

// Requirement is one external program that must be present.
type Requirement struct {
	Name        string
	Binary      string
	VersionArgs []string
}

// Checker runs a harmless version query for each requirement.
type Checker struct {
	// Timeout bounds each version query. Zero uses duration.DependencyCheck.
	Timeout time.Duration

	// Logger receives per-tool results. Nil uses slog.Default().
	Logger *slog.Logger

	// LookPath resolves binaries. Nil uses exec.LookPath.
	LookPath func(file string) (string, error)
}

// Check verifies every requirement in order and stops at the first
// failure, returning a *MissingDependencyError naming that tool.
// Duplicate binaries are checked once.
func (c *Checker) Check(ctx context.Context, reqs []Requirement) error {
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if seen[r.Binary] {
			continue
		}
		seen[r.Binary] = true

		if err := c.checkOne(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkOne(ctx context.Context, r Requirement) error {
	log := c.logger().With(slog.String("tool", r.Name), slog.String("binary", r.Binary))

	path, err := c.lookPath(r.Binary)
	if err != nil {
		return &MissingDependencyError{Tool: r.Name, Reason: ReasonNotFound, Err: err}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(tctx, path, r.VersionArgs...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return &MissingDependencyError{Tool: r.Name, Reason: ReasonTimeout, Err: tctx.Err()}
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &MissingDependencyError{
				Tool:   r.Name,
				Reason: fmt.Sprintf("%s %d", ReasonExitStatus, exitErr.ExitCode()),
				Err:    err,
			}
		}
		return &MissingDependencyError{Tool: r.Name, Reason: ReasonNotRunnable, Err: err}
	}

	log.Debug("dependency ok",
		slog.String("path", path),
		slog.String("version", firstLine(out.Bytes())),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return duration.DependencyCheck
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Checker) lookPath(file string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath(file)
	}
	return exec.LookPath(file)
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
